package proxy

import "testing"

func TestAlpnOfferMirrorsClientSet(t *testing.T) {
	got := alpnOffer([]string{"h2", "http/1.1"})
	want := []string{"h2", "http/1.1"}
	if len(got) != len(want) {
		t.Fatalf("alpnOffer(%v) = %v, want %v", []string{"h2", "http/1.1"}, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("alpnOffer(%v) = %v, want %v", []string{"h2", "http/1.1"}, got, want)
		}
	}
}

func TestAlpnOfferEmptyClientSet(t *testing.T) {
	if got := alpnOffer(nil); got != nil {
		t.Fatalf("alpnOffer(nil) = %v, want nil", got)
	}
}

func TestIsHTTPLike(t *testing.T) {
	if !isHTTPLike("http/1.1") || !isHTTPLike("http/1.0") {
		t.Fatal("expected http/1.x to be HTTP-like")
	}
	if isHTTPLike("h2") {
		t.Fatal("h2 must route to the tunnel service, not the HTTP service")
	}
}
