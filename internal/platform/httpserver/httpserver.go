package httpserver

import (
	"net/http"
	"time"
)

// New builds the operational HTTP server. ReadHeaderTimeout guards against
// slowloris on the probe endpoints; handler deadlines stay with the router.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
