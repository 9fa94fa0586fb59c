package addon

import (
	"fmt"
	"os"
	"strings"
	"time"

	uuid "github.com/satori/go.uuid"
	_log "github.com/sirupsen/logrus"

	"github.com/aether-mitm/aether/flow"
)

// InstanceLogger is a structured logger tagged with a random instance
// ID, so log lines from several proxy processes sharing one aggregator
// can be told apart. It can write to a JSON log file instead of the
// process's default logger; lines then go to that file only.
type InstanceLogger struct {
	InstanceID   string
	InstanceName string
	Port         string

	entry *_log.Entry
}

// NewInstanceLogger builds one from a listen address, deriving the
// instance name from its port when name is empty.
func NewInstanceLogger(addr, name string) *InstanceLogger {
	return NewInstanceLoggerWithFile(addr, name, "")
}

// NewInstanceLoggerWithFile is NewInstanceLogger writing JSON lines to
// logFilePath instead of the default logrus output; a failure to open
// logFilePath falls back to the process's default logrus output rather
// than failing construction.
func NewInstanceLoggerWithFile(addr, name, logFilePath string) *InstanceLogger {
	port := addr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		port = addr[idx+1:]
	}
	if name == "" {
		name = fmt.Sprintf("proxy-%s", port)
	}

	il := &InstanceLogger{
		InstanceID:   uuid.NewV4().String()[:8],
		InstanceName: name,
		Port:         port,
	}

	fields := _log.Fields{
		"instance_id":   il.InstanceID,
		"instance_name": il.InstanceName,
		"port":          il.Port,
	}

	if logFilePath != "" {
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			log.WithError(err).Errorf("open instance log file %v", logFilePath)
		} else {
			fileLogger := _log.New()
			fileLogger.SetOutput(file)
			fileLogger.SetFormatter(&_log.JSONFormatter{})
			il.entry = fileLogger.WithFields(fields)
			return il
		}
	}

	il.entry = _log.WithFields(fields)
	return il
}

func (il *InstanceLogger) WithFields(fields _log.Fields) *_log.Entry {
	return il.entry.WithFields(fields)
}

// InstanceLog is a Log variant that tags every line with the owning
// proxy instance's ID, for deployments running several proxy processes
// behind one log aggregator.
type InstanceLog struct {
	Base
	logger *InstanceLogger
}

// NewInstanceLog builds an InstanceLog addon whose instance name and ID
// derive from addr.
func NewInstanceLog(addr, instanceName string) *InstanceLog {
	return &InstanceLog{logger: NewInstanceLogger(addr, instanceName)}
}

// NewInstanceLogWithFile is NewInstanceLog plus a JSON log file sink; an
// empty logFilePath behaves exactly like NewInstanceLog.
func NewInstanceLogWithFile(addr, instanceName, logFilePath string) *InstanceLog {
	return &InstanceLog{logger: NewInstanceLoggerWithFile(addr, instanceName, logFilePath)}
}

func (a *InstanceLog) ClientConnected(c *flow.ClientConn) {
	a.logger.WithFields(_log.Fields{
		"client_addr": c.Conn.RemoteAddr().String(),
		"event":       "client_connected",
	}).Info("client connected")
}

func (a *InstanceLog) ClientDisconnected(c *flow.ClientConn) {
	a.logger.WithFields(_log.Fields{
		"client_addr": c.Conn.RemoteAddr().String(),
		"event":       "client_disconnected",
	}).Info("client disconnected")
}

func (a *InstanceLog) Requestheaders(f *flow.Flow) {
	start := time.Now()

	a.logger.WithFields(_log.Fields{
		"client_addr": f.ConnCtx.ClientConn.Conn.RemoteAddr().String(),
		"method":      f.Request.Method,
		"url":         f.Request.Target.String(),
		"event":       "request_headers",
	}).Debug("request headers received")

	go func() {
		<-f.Done()

		status := 0
		contentLen := 0
		if f.Response != nil {
			status = f.Response.Status
			contentLen = len(f.Response.Body)
		}

		fields := _log.Fields{
			"client_addr": f.ConnCtx.ClientConn.Conn.RemoteAddr().String(),
			"method":      f.Request.Method,
			"url":         f.Request.Target.String(),
			"status_code": status,
			"content_len": contentLen,
			"duration_ms": time.Since(start).Milliseconds(),
			"event":       "request_completed",
		}
		if f.Error != nil {
			fields["error"] = f.Error.Error()
		}
		a.logger.WithFields(fields).Info("request completed")
	}()
}

func (a *InstanceLog) Response(f *flow.Flow) {
	if f.Response == nil {
		return
	}
	a.logger.WithFields(_log.Fields{
		"client_addr": f.ConnCtx.ClientConn.Conn.RemoteAddr().String(),
		"method":      f.Request.Method,
		"url":         f.Request.Target.String(),
		"status_code": f.Response.Status,
		"body_len":    len(f.Response.Body),
		"event":       "response_body",
	}).Debug("full response received")
}
