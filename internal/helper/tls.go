package helper

import (
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

// TLSKeyLogWriter lazily opens the file named by SSLKEYLOGFILE, if set,
// so Wireshark (or any other tool that understands the NSS key log
// format) can decrypt a capture of either TLS leg this proxy
// terminates. Returns nil if the variable is unset or the file can't be
// opened, in which case crypto/tls simply logs no keys.
var tlsKeyLogWriter io.Writer
var tlsKeyLogOnce sync.Once

func TLSKeyLogWriter() io.Writer {
	tlsKeyLogOnce.Do(func() {
		logfile := os.Getenv("SSLKEYLOGFILE")
		if logfile == "" {
			return
		}

		writer, err := os.OpenFile(logfile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Debugf("TLSKeyLogWriter OpenFile error: %v", err)
			return
		}

		tlsKeyLogWriter = writer
	})
	return tlsKeyLogWriter
}
