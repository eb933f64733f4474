package server

import (
	"net/http"
	"strings"
)

// suffixRoute pairs a path suffix under a route prefix with its handler.
type suffixRoute struct {
	suffix  string
	handler http.HandlerFunc
}

// routeBySuffix dispatches /{prefix}{id}{suffix} style paths, where the
// id segment sits between the mux prefix and the action suffix. Reports
// whether a route matched.
func routeBySuffix(w http.ResponseWriter, r *http.Request, prefix string, routes []suffixRoute) bool {
	path := r.URL.Path
	if len(path) <= len(prefix) {
		return false
	}

	rest := path[len(prefix):]
	for _, route := range routes {
		if strings.HasSuffix(rest, route.suffix) || rest == route.suffix {
			route.handler(w, r)
			return true
		}
	}
	return false
}
