package addon

import (
	"strconv"

	"github.com/aether-mitm/aether/flow"
	"github.com/aether-mitm/aether/httpmsg"
	"github.com/aether-mitm/aether/internal/helper"
)

// HostFilter drops (via a synthetic response) or lets through flows
// whose request Host matches a set of glob patterns, such as
// "*.baidu.com" or "example.test:8443". Include patterns are checked
// first; when non-empty, only matching hosts pass. Exclude patterns are
// then checked against whatever passed Include, and reject a match.
type HostFilter struct {
	Base
	Include []string
	Exclude []string
}

func (hf *HostFilter) Requestheaders(f *flow.Flow) {
	host := f.Request.Header.Get("Host")
	if host == "" {
		host = f.Request.Target.NetLoc.Host
	}
	if host == "" {
		return
	}

	if len(hf.Include) > 0 && !helper.MatchHost(host, hf.Include) {
		f.Response = blockedResponse()
		return
	}
	if len(hf.Exclude) > 0 && helper.MatchHost(host, hf.Exclude) {
		f.Response = blockedResponse()
	}
}

func blockedResponse() *httpmsg.Response {
	body := []byte("blocked by host filter")
	header := httpmsg.NewHeader()
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("Content-Type", "text/plain")
	return &httpmsg.Response{
		Version: httpmsg.HTTP11,
		Status:  403,
		Reason:  "Forbidden",
		Header:  header,
		Body:    body,
	}
}
