package helper

import (
	"strings"

	"github.com/tidwall/match"
)

// MatchHost reports whether address (host[:port]) matches any of the
// given host patterns. A pattern may glob its hostname portion (e.g.
// "*.example.com") and may optionally pin a port; a pattern with no
// port matches any port on that host.
func MatchHost(address string, patterns []string) bool {
	hostname, port := splitHostPort(address)
	for _, pattern := range patterns {
		h, p := splitHostPort(pattern)
		if match.Match(hostname, h) && (p == "" || p == port) {
			return true
		}
	}
	return false
}

func splitHostPort(address string) (string, string) {
	index := strings.LastIndex(address, ":")
	if index == -1 {
		return address, ""
	}
	return address[:index], address[index+1:]
}
