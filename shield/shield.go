// Package shield is the middleware stack in front of the satsview HTTP API.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(logger, 10<<20) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

// Stack returns the default middleware chain, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, RequestID.
func Stack(logger Logger, maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		RequestID(logger),
	}
}
