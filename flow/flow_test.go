package flow

import (
	"net"
	"testing"
)

func TestConnContextAttachServerConn(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewConnContext(client)
	var zero [16]byte
	if [16]byte(cc.ID()) == zero {
		t.Fatal("expected a non-zero client connection id")
	}

	upstream, upstreamPeer := net.Pipe()
	defer upstream.Close()
	defer upstreamPeer.Close()

	sc := cc.AttachServerConn("example.test:443", upstream)
	if cc.ServerConn != sc {
		t.Fatal("expected AttachServerConn to install the returned ServerConn")
	}
	if sc.Address != "example.test:443" {
		t.Fatalf("address = %q", sc.Address)
	}
}

func TestConnContextCloseAfterResponse(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()
	cc := NewConnContext(client)
	if cc.CloseAfterResponse() {
		t.Fatal("expected false by default")
	}
	cc.SetCloseAfterResponse(true)
	if !cc.CloseAfterResponse() {
		t.Fatal("expected true after SetCloseAfterResponse(true)")
	}
}

func TestFlowCountIsAtomic(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()
	cc := NewConnContext(client)
	cc.FlowCount.Inc()
	cc.FlowCount.Inc()
	if cc.FlowCount.Load() != 2 {
		t.Fatalf("FlowCount = %d, want 2", cc.FlowCount.Load())
	}
}
