package errs

import "testing"

func TestCategoryPartition(t *testing.T) {
	cases := []*Error{
		ProxyErr(SelfConnect, ""),
		HTTPErr(InvalidChunkedBody, ""),
		TLSErr(UpstreamHandshakeFailed, ""),
		WebSocketErr(InvalidFrame, ""),
	}

	for _, e := range cases {
		v := e.Uint32()
		if got := CategoryOf(v); got != e.category {
			t.Fatalf("CategoryOf(%d) = %v, want %v", v, got, e.category)
		}
		if got := CodeOf(v); got != e.code {
			t.Fatalf("CodeOf(%d) = %v, want %v", v, got, e.code)
		}

		preds := map[Category]bool{
			Proxy:     e.IsProxy(),
			HTTP:      e.IsHTTP(),
			TLS:       e.IsTLS(),
			WebSocket: e.IsWebSocket(),
		}
		trueCount := 0
		for cat, isTrue := range preds {
			if isTrue {
				trueCount++
				if cat != e.category {
					t.Fatalf("predicate for %v was true on error of category %v", cat, e.category)
				}
			}
		}
		if trueCount != 1 {
			t.Fatalf("expected exactly one category predicate to be true, got %d", trueCount)
		}
	}
}

func TestMessageAndError(t *testing.T) {
	e := HTTPErr(BodySizeTooLarge, "1073741824 bytes")
	if e.Message() != "given body size exceeds limit" {
		t.Fatalf("unexpected message: %v", e.Message())
	}
	if e.Error() != "http: given body size exceeds limit: 1073741824 bytes" {
		t.Fatalf("unexpected Error(): %v", e.Error())
	}
}

func TestIs(t *testing.T) {
	var err error = TLSErr(ALPNNotFound, "")
	if !Is(err, TLS, ALPNNotFound) {
		t.Fatal("expected Is to match")
	}
	if Is(err, TLS, UpstreamHandshakeFailed) {
		t.Fatal("expected Is to not match different code")
	}
}
