package addon

import (
	"time"

	_log "github.com/sirupsen/logrus"

	"github.com/aether-mitm/aether/flow"
)

var log = _log.WithField("at", "addon")

// Addon receives lifecycle callbacks as connections and flows move
// through the proxy's services. Every method is optional to override;
// embed Base to satisfy the interface with no-ops.
type Addon interface {
	// A client socket has been accepted. A connection may carry many
	// sequential flows under keep-alive, or a single WebSocket upgrade.
	ClientConnected(*flow.ClientConn)

	// The client connection has closed, by either side.
	ClientDisconnected(*flow.ClientConn)

	// Request headers have been read. The proxy parses whole messages,
	// so the body is already in f.Request.Body as well.
	Requestheaders(*flow.Flow)

	// The full request, including body, has been read.
	Request(*flow.Flow)

	// Response headers have been read. The proxy parses whole messages,
	// so the body is already in f.Response.Body as well.
	Responseheaders(*flow.Flow)

	// The full response, including body, has been read.
	Response(*flow.Flow)
}

// Base implements Addon with no-ops so real addons only override what
// they care about.
type Base struct{}

func (a *Base) ClientConnected(*flow.ClientConn)    {}
func (a *Base) ClientDisconnected(*flow.ClientConn) {}
func (a *Base) Requestheaders(*flow.Flow)           {}
func (a *Base) Request(*flow.Flow)                  {}
func (a *Base) Responseheaders(*flow.Flow)          {}
func (a *Base) Response(*flow.Flow)                 {}

// Log writes a one-line access-log record per flow, once its response
// (or terminal error) is known.
type Log struct {
	Base
}

func (a *Log) ClientConnected(c *flow.ClientConn) {
	log.Infof("%v client connect", c.Conn.RemoteAddr())
}

func (a *Log) ClientDisconnected(c *flow.ClientConn) {
	log.Infof("%v client disconnect", c.Conn.RemoteAddr())
}

func (a *Log) Requestheaders(f *flow.Flow) {
	log := log.WithField("in", "Log")
	start := time.Now()
	go func() {
		<-f.Done()
		status := 0
		contentLen := 0
		if f.Response != nil {
			status = f.Response.Status
			contentLen = len(f.Response.Body)
		}
		if f.Error != nil {
			log.Infof("%v %v error: %v - %v ms", f.Request.Method, f.Request.Target.String(), f.Error, time.Since(start).Milliseconds())
			return
		}
		log.Infof("%v %v %v %v - %v ms", f.Request.Method, f.Request.Target.String(), status, contentLen, time.Since(start).Milliseconds())
	}()
}
