// Package flow models connection-flow ownership: each accepted client
// connection owns at most one upstream server connection at a time, and
// each HTTP exchange (or WebSocket upgrade) that passes across that pair
// of sockets is represented as a Flow. Services borrow a *ConnContext to
// do their work; nothing outside this package tears the sockets down.
package flow

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"net"
	"sync"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"

	"github.com/aether-mitm/aether/httpmsg"
)

// ClientConn is the downstream socket accepted from the browser or tool
// being proxied.
type ClientConn struct {
	ID   uuid.UUID
	Conn net.Conn
	TLS  bool
}

func newClientConn(c net.Conn) *ClientConn {
	return &ClientConn{ID: uuid.NewV4(), Conn: c}
}

func (c *ClientConn) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"id":      c.ID,
		"tls":     c.TLS,
		"address": c.Conn.RemoteAddr().String(),
	})
}

// ServerConn is the upstream socket dialed on the client's behalf. Its
// TLS fields are only populated once the TLS service completes the
// upstream handshake; readers block on TLSHandshaked until that happens.
type ServerConn struct {
	ID      uuid.UUID
	Address string
	Conn    net.Conn

	// Reader is the single buffered reader every response on this
	// socket is parsed from. It must survive across requests on a
	// keep-alive connection, since a fresh bufio.Reader would read
	// ahead into bytes belonging to a response the caller hasn't
	// asked for yet.
	Reader *bufio.Reader

	TLSHandshaked   chan struct{}
	TLSHandshakeErr error
	TLSConn         *tls.Conn
	TLSState        *tls.ConnectionState
}

func newServerConn() *ServerConn {
	return &ServerConn{ID: uuid.NewV4(), TLSHandshaked: make(chan struct{})}
}

func (c *ServerConn) MarshalJSON() ([]byte, error) {
	peer := ""
	if c.Conn != nil {
		peer = c.Conn.RemoteAddr().String()
	}
	return json.Marshal(map[string]interface{}{
		"id":      c.ID,
		"address": c.Address,
		"peer":    peer,
	})
}

// WaitTLSState blocks until the upstream TLS handshake finishes (success
// or failure) and returns the resulting state.
func (c *ServerConn) WaitTLSState() *tls.ConnectionState {
	<-c.TLSHandshaked
	return c.TLSState
}

// ConnContext is the shared state for one accepted client connection:
// its socket, whatever server socket is currently attached to it, and
// the bookkeeping the services need across the connection's lifetime,
// which may carry many sequential HTTP exchanges under keep-alive.
type ConnContext struct {
	ClientConn *ClientConn `json:"clientConn"`
	ServerConn *ServerConn `json:"serverConn"`

	// Intercept indicates the TLS service decided to terminate and
	// re-originate this CONNECT tunnel's TLS, rather than passing it
	// through opaquely.
	Intercept bool `json:"intercept"`

	// TargetAddr is the "host:port" a CONNECT (or the TLS service, once
	// it terminates that CONNECT's TLS) established as this
	// connection's fixed upstream target. Origin-form requests arriving
	// afterward have nowhere else to name their destination.
	TargetAddr string `json:"targetAddr"`

	// FlowCount is the number of HTTP exchanges completed on this
	// connection so far; addons read it concurrently with the service
	// loop incrementing it, hence the atomic.
	FlowCount atomic.Uint32 `json:"-"`

	mu                 sync.Mutex
	closeAfterResponse bool
}

// NewConnContext wraps a freshly accepted client socket.
func NewConnContext(c net.Conn) *ConnContext {
	return &ConnContext{ClientConn: newClientConn(c)}
}

func (cc *ConnContext) ID() uuid.UUID { return cc.ClientConn.ID }

// AttachServerConn installs conn as the current upstream socket for this
// client connection. Any prior ServerConn's socket is the caller's
// responsibility to close first.
func (cc *ConnContext) AttachServerConn(address string, conn net.Conn) *ServerConn {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	sc := newServerConn()
	sc.Address = address
	sc.Conn = conn
	cc.ServerConn = sc
	return sc
}

func (cc *ConnContext) SetCloseAfterResponse(v bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.closeAfterResponse = v
}

func (cc *ConnContext) CloseAfterResponse() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.closeAfterResponse
}

// Flow is one HTTP request/response exchange (or the initial handshake
// of a WebSocket upgrade) observed on a connection. Addons see Flows,
// never raw sockets.
type Flow struct {
	ID        uuid.UUID `json:"id"`
	ConnCtx   *ConnContext `json:"-"`
	Request   *httpmsg.Request
	Response  *httpmsg.Response
	Error     error `json:"-"`
	WebSocket bool

	done chan struct{}
}

func NewFlow(connCtx *ConnContext) *Flow {
	return &Flow{ID: uuid.NewV4(), ConnCtx: connCtx, done: make(chan struct{})}
}

// Done returns a channel closed once the service handling this Flow has
// written (or failed to write) the response, so addons can defer work
// like logging until the full exchange is known.
func (f *Flow) Done() <-chan struct{} { return f.done }

// Finish closes the Flow's done channel. Services call this exactly once
// per Flow, after the response (or terminal error) is recorded.
func (f *Flow) Finish() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}

func (f *Flow) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"id":        f.ID,
		"websocket": f.WebSocket,
	}
	if f.Request != nil {
		m["method"] = f.Request.Method
		m["url"] = f.Request.Target.String()
	}
	if f.Response != nil {
		m["status"] = f.Response.Status
	}
	if f.Error != nil {
		m["error"] = f.Error.Error()
	}
	return json.Marshal(m)
}
