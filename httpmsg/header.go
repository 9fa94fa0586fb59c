package httpmsg

import "strings"

// headerField is a single name/value pair, keeping the caller's exact
// casing for serialization.
type headerField struct {
	name  string
	value string
}

// Header is an ordered, case-insensitive multimap, matching HTTP's
// header semantics: duplicate keys are preserved in the order they were
// added, lookups fold case, but the original casing survives for
// re-serialization.
type Header struct {
	fields []headerField
}

// NewHeader returns an empty header set.
func NewHeader() *Header { return &Header{} }

// Add appends a new name/value pair without removing any existing
// values for the same (case-folded) name.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, headerField{name: strings.TrimSpace(name), value: strings.TrimSpace(value)})
}

// Set replaces all existing values for name with a single value.
func (h *Header) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Get returns the first value for name, or "" if absent.
func (h *Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return f.value
		}
	}
	return ""
}

// Values returns all values for name, in insertion order.
func (h *Header) Values(name string) []string {
	var vals []string
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			vals = append(vals, f.value)
		}
	}
	return vals
}

// Has reports whether name is present at all.
func (h *Header) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return true
		}
	}
	return false
}

// Del removes all values for name.
func (h *Header) Del(name string) {
	out := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.name, name) {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Len returns the total number of name/value pairs, counting
// duplicates individually.
func (h *Header) Len() int { return len(h.fields) }

// Each calls fn once per name/value pair, in insertion order.
func (h *Header) Each(fn func(name, value string)) {
	for _, f := range h.fields {
		fn(f.name, f.value)
	}
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	if h == nil {
		return NewHeader()
	}
	out := &Header{fields: make([]headerField, len(h.fields))}
	copy(out.fields, h.fields)
	return out
}

// Equal compares two header sets as multisets of (case-folded name,
// exact value) pairs in original order, per spec §8's HTTP round-trip
// invariant.
func (h *Header) Equal(other *Header) bool {
	if h.Len() != other.Len() {
		return false
	}
	for i, f := range h.fields {
		of := other.fields[i]
		if !strings.EqualFold(f.name, of.name) || f.value != of.value {
			return false
		}
	}
	return true
}

// HasToken reports whether name's value(s), taken as a comma-separated
// list, contain token (case-insensitively). Used for Connection:
// close/keep-alive and Upgrade: websocket checks.
func (h *Header) HasToken(name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
