package gateway

import "regexp"

// publicRoutes lists the paths that bypass token verification. The list is
// compiled once; requests matching any pattern are forwarded as-is.
var publicRoutes = []*regexp.Regexp{
	regexp.MustCompile(`^/api/v1/auth/login$`),
	regexp.MustCompile(`^/api/v1/auth/register$`),
	regexp.MustCompile(`^/api/v1/auth/refresh-token$`),
	regexp.MustCompile(`^/healthz$`),
	regexp.MustCompile(`^/readyz$`),
	regexp.MustCompile(`^/metrics$`),
	regexp.MustCompile(`^/docs(/.*)?$`),
	regexp.MustCompile(`^/openapi\.yaml$`),
}

// IsPublicRoute reports whether the path skips delegated verification.
func IsPublicRoute(path string) bool {
	for _, re := range publicRoutes {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
