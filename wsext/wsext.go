// Package wsext parses and renders the Sec-WebSocket-Extensions header,
// per RFC 6455 §9.1: a comma-separated list of extension tokens, each
// optionally followed by semicolon-separated parameters.
package wsext

import (
	"strings"

	"github.com/aether-mitm/aether/errs"
)

const (
	extensionDelim = ','
	paramDelim     = ';'
	assignDelim    = '='
)

// Extension is a single negotiated or offered extension, e.g.
// "permessage-deflate; client_no_context_takeover".
type Extension struct {
	Name   string
	Params map[string]string
}

// New returns an extension with the given name and no parameters.
func New(name string) Extension {
	return Extension{Name: name, Params: make(map[string]string)}
}

func (e Extension) HasParam(name string) bool {
	_, ok := e.Params[name]
	return ok
}

// GetParam returns the parameter's value, raising ExtensionParamNotFound
// if it isn't present.
func (e Extension) GetParam(name string) (string, error) {
	v, ok := e.Params[name]
	if !ok {
		return "", errs.WebSocketErr(errs.ExtensionParamNotFound, name)
	}
	return v, nil
}

func (e *Extension) SetParam(name, value string) {
	if e.Params == nil {
		e.Params = make(map[string]string)
	}
	e.Params[name] = value
}

// FromHeaderValue parses a single extension token (no extensionDelim may
// appear within it, since that would mean two extensions).
func FromHeaderValue(raw string) (Extension, error) {
	if strings.ContainsRune(raw, extensionDelim) {
		return Extension{}, errs.WebSocketErr(errs.InvalidExtensionString, raw)
	}
	parts := strings.Split(raw, string(paramDelim))
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return Extension{}, errs.WebSocketErr(errs.InvalidExtensionString, raw)
	}
	ext := New(name)
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if idx := strings.IndexByte(p, assignDelim); idx >= 0 {
			ext.SetParam(strings.TrimSpace(p[:idx]), strings.TrimSpace(p[idx+1:]))
		} else {
			ext.SetParam(p, "")
		}
	}
	return ext, nil
}

// ParseExtensions parses a full Sec-WebSocket-Extensions header value,
// which may list multiple extensions separated by extensionDelim.
func ParseExtensions(header string) ([]Extension, error) {
	if strings.TrimSpace(header) == "" {
		return nil, nil
	}
	var out []Extension
	for _, raw := range strings.Split(header, string(extensionDelim)) {
		ext, err := FromHeaderValue(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, ext)
	}
	return out, nil
}

func (e Extension) String() string {
	var b strings.Builder
	b.WriteString(e.Name)
	for name, value := range e.Params {
		b.WriteByte(paramDelim)
		b.WriteByte(' ')
		b.WriteString(name)
		if value != "" {
			b.WriteByte(assignDelim)
			b.WriteString(value)
		}
	}
	return b.String()
}

// FormatExtensions renders a list of extensions as a single header value.
func FormatExtensions(exts []Extension) string {
	parts := make([]string, len(exts))
	for i, e := range exts {
		parts[i] = e.String()
	}
	return strings.Join(parts, string(extensionDelim)+" ")
}
