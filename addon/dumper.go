package addon

import (
	"io"
	"os"

	"github.com/aether-mitm/aether/flow"
)

// Dumper appends the raw wire form of every flow's request/response to
// Out, in the order responses complete.
type Dumper struct {
	Base
	Out io.Writer
}

func NewDumperWithFile(file string) *Dumper {
	out, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		panic(err)
	}
	return &Dumper{Out: out}
}

func (d *Dumper) Requestheaders(f *flow.Flow) {
	log := log.WithField("in", "Dumper")

	go func() {
		<-f.Done()

		buf := append([]byte{}, f.Request.Serialize()...)
		if f.Response != nil {
			buf = append(buf, f.Response.Serialize()...)
		}
		if _, err := d.Out.Write(buf); err != nil {
			log.Error(err)
		}
	}()
}
