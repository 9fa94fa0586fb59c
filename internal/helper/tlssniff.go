package helper

// IsTLS reports whether the first bytes read from a connection look like
// the start of a TLS record: content type handshake (0x16), major
// version 3 (SSL 3.0 and every TLS 1.x minor both report major version
// 3 here).
func IsTLS(peek []byte) bool {
	return len(peek) >= 3 && peek[0] == 0x16 && peek[1] == 0x03
}
