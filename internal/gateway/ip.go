package gateway

import (
	"net"
	"net/http"
	"regexp"
	"strings"
)

// UnknownIP is forwarded when no valid client address can be determined.
// Downstream services treat it as "anonymous network origin", never as an
// error.
const UnknownIP = "-"

// ipv4Pattern accepts dotted-quad addresses only. IPv6 callers deliberately
// fall back to the unknown sentinel: downstream ACLs are IPv4-keyed.
var ipv4Pattern = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)

// ValidIPv4 reports whether s is a well-formed dotted-quad IPv4 address.
func ValidIPv4(s string) bool {
	if !ipv4Pattern.MatchString(s) {
		return false
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// ClientIP resolves the caller's address: the first entry of the
// X-Forwarded-For chain wins, then the socket peer address. Anything that is
// not a valid IPv4 address collapses to the unknown sentinel.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ValidIPv4(first) {
			return first
		}
		return UnknownIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ValidIPv4(host) {
		return host
	}
	return UnknownIP
}
