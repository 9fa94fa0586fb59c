package addon

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/aether-mitm/aether/flow"
)

// concurrentConn serializes writes to one monitor's socket; gorilla's
// Conn forbids concurrent writers.
type concurrentConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *concurrentConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// WebAddon streams every flow's request/response, as JSON, to whatever
// monitors are connected over its own WebSocket endpoint. This is a
// side channel for observing traffic; it never touches the intercepted
// bytes themselves.
type WebAddon struct {
	Base

	addr      string
	upgrader  *websocket.Upgrader
	serverMux *http.ServeMux
	server    *http.Server

	conns   []*concurrentConn
	connsMu sync.RWMutex
}

type monitorMessage struct {
	On   string     `json:"on"`
	Flow *flow.Flow `json:"flow"`
}

// NewWebAddon starts an HTTP server on addr serving a "/monitor"
// WebSocket endpoint. Passing "" picks the default :9081.
func NewWebAddon(addr string) *WebAddon {
	if addr == "" {
		addr = ":9081"
	}

	w := &WebAddon{
		addr: addr,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	w.serverMux = http.NewServeMux()
	w.serverMux.HandleFunc("/monitor", w.handleMonitor)
	w.server = &http.Server{Addr: w.addr, Handler: w.serverMux}

	l := log.WithField("in", "WebAddon")
	go func() {
		l.Infof("monitor server listening at %v", w.addr)
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Error(err)
		}
	}()

	return w
}

func (w *WebAddon) handleMonitor(rw http.ResponseWriter, r *http.Request) {
	c, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.WithField("in", "WebAddon").Error("upgrade: ", err)
		return
	}

	cc := &concurrentConn{conn: c}
	w.addConn(cc)
	defer func() {
		w.removeConn(cc)
		c.Close()
	}()

	// Monitors are read-only; drain and discard anything they send so
	// the connection's read deadline machinery keeps working and we
	// notice when they disconnect.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}

func (w *WebAddon) addConn(c *concurrentConn) {
	w.connsMu.Lock()
	w.conns = append(w.conns, c)
	w.connsMu.Unlock()
}

func (w *WebAddon) removeConn(c *concurrentConn) {
	w.connsMu.Lock()
	defer w.connsMu.Unlock()
	for i, existing := range w.conns {
		if existing == c {
			w.conns = append(w.conns[:i], w.conns[i+1:]...)
			return
		}
	}
}

func (w *WebAddon) sendFlow(on string, f *flow.Flow) {
	w.connsMu.RLock()
	conns := w.conns
	w.connsMu.RUnlock()
	if len(conns) == 0 {
		return
	}

	msg := &monitorMessage{On: on, Flow: f}
	for _, c := range conns {
		if err := c.writeJSON(msg); err != nil {
			log.WithField("in", "WebAddon").Error("write: ", err)
		}
	}
}

func (w *WebAddon) Request(f *flow.Flow)  { w.sendFlow("request", f) }
func (w *WebAddon) Response(f *flow.Flow) { w.sendFlow("response", f) }
