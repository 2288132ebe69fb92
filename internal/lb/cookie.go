package lb

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// CookieAttribute is one extra `Set-Cookie` attribute (e.g. "SameSite=Strict"),
// spec.md §4.9 "attrs".
type CookieAttribute struct {
	Name  string
	Value string
}

// GenerateCookie implements spec.md §4.9: hashes remoteAddress||localAddress
// with a non-cryptographic 64-bit hash, hex-encodes it, and returns both the
// cookie value (for use as the hash key) and the full `Set-Cookie` header
// value to install via setHeadersModifier. Returns ok=false if either
// address is unavailable, mirroring the original's empty-string bailout.
func GenerateCookie(remoteAddress, localAddress, name, path string, ttl time.Duration, attrs []CookieAttribute) (cookieValue, headerValue string, ok bool) {
	if remoteAddress == "" || localAddress == "" {
		return "", "", false
	}

	sum := xxhash.Sum64String(remoteAddress + localAddress)
	cookieValue = fmt.Sprintf("%016x", sum)

	headerValue = fmt.Sprintf("%s=%s; Path=%s; Max-Age=%d; HttpOnly", name, cookieValue, path, int64(ttl.Seconds()))
	for _, a := range attrs {
		headerValue += fmt.Sprintf("; %s=%s", a.Name, a.Value)
	}
	return cookieValue, headerValue, true
}
