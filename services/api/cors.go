package api

import (
	"net/http"
	"strings"
)

// CORSHandler adds cross-origin resource sharing headers, so the api can be
// used from browser frontends on other origins.
type CORSHandler struct {
	Handler             http.Handler
	SupportsCredentials bool
	AllowHeaders        func(headers []string) bool
}

func (c CORSHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	origin := req.Header.Get("Origin")
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		if c.SupportsCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
	}

	if req.Method == "OPTIONS" && req.Header.Get("Access-Control-Request-Method") != "" {
		// preflight request
		requested := req.Header.Get("Access-Control-Request-Headers")
		var headers []string
		for _, header := range strings.Split(requested, ",") {
			if header = strings.TrimSpace(strings.ToLower(header)); header != "" {
				headers = append(headers, header)
			}
		}
		if c.AllowHeaders != nil && !c.AllowHeaders(headers) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if requested != "" {
			w.Header().Set("Access-Control-Allow-Headers", requested)
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	c.Handler.ServeHTTP(w, req)
}
