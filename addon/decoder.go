package addon

import (
	"github.com/aether-mitm/aether/addon/flowbody"
	"github.com/aether-mitm/aether/flow"
)

// Decoder rewrites each response's body to its decoded (Content-Encoding
// stripped) form before other addons or the debug UI see it.
type Decoder struct {
	Base
}

func (d *Decoder) Response(f *flow.Flow) {
	if f.Response == nil {
		return
	}
	if err := flowbody.ReplaceWithDecoded(f.Response); err != nil {
		log.WithField("in", "Decoder").Debugf("skip decode for %v: %v", f.Request.Target.String(), err)
	}
}
