package proxy

import (
	"bufio"
	"io"

	"github.com/aether-mitm/aether/flow"
	"github.com/aether-mitm/aether/internal/pipeconn"
	"github.com/aether-mitm/aether/wsext"
	"github.com/aether-mitm/aether/wsframe"
)

// runWebSocketService takes over a connection immediately after a
// successful 101 upgrade and relays complete application frames in
// both directions until either side closes or a framing error occurs.
// Each direction gets its own Manager so its permessage-deflate
// context (if negotiated) persists correctly across messages.
func (p *Proxy) runWebSocketService(pc *pipeconn.PeekConn, connCtx *flow.ConnContext, f *flow.Flow) {
	f.WebSocket = true

	exts, _ := wsext.ParseExtensions(f.Response.Header.Get("Sec-WebSocket-Extensions"))
	clientDeflate, serverDeflate, _ := wsframe.NegotiateDeflate(exts)

	fromClient := wsframe.NewManager(wsframe.Client, clientDeflate)
	fromServer := wsframe.NewManager(wsframe.Server, serverDeflate)

	sc := connCtx.ServerConn
	if sc == nil || sc.Conn == nil {
		return
	}

	done := make(chan struct{}, 2)

	go relayWebSocket(fromClient, pc.BufioReader(), sc.Conn, wsframe.Server, done)
	go relayWebSocket(fromServer, sc.Reader, pc, wsframe.Client, done)

	<-done
	<-done
}

// relayWebSocket reads complete application frames from in (whose
// Manager already knows which endpoint they're arriving from) and
// re-serializes each one toward destEndpoint on out, stopping after it
// forwards a close frame or at its first read, serialize or write error.
// It watches only its own direction.
func relayWebSocket(m *wsframe.Manager, in *bufio.Reader, out io.Writer, destEndpoint wsframe.Endpoint, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for {
		cf, err := m.ReadNext(in)
		if err != nil {
			return
		}

		raw, err := m.Serialize(cf, destEndpoint)
		if err != nil {
			return
		}
		if _, err := out.Write(raw); err != nil {
			return
		}

		if cf.Kind == wsframe.CloseFrame {
			return
		}
	}
}
