package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/viper"

	directorydb "github.com/btcpaydir/nwc-billing/internal/database"
	"github.com/btcpaydir/nwc-billing/internal/guard"
	"github.com/btcpaydir/nwc-billing/internal/logger"
	"github.com/btcpaydir/nwc-billing/internal/nwc"
	"github.com/btcpaydir/nwc-billing/internal/payments"
)

// Server is the HTTP boundary around the credential and payment core
type Server struct {
	Credentials *nwc.CredentialStore
	Guard       *guard.Guard
	Scheduler   *payments.Scheduler
	Store       *directorydb.Store
}

func NewServer(credentials *nwc.CredentialStore, g *guard.Guard, scheduler *payments.Scheduler, store *directorydb.Store) *Server {
	return &Server{
		Credentials: credentials,
		Guard:       g,
		Scheduler:   scheduler,
		Store:       store,
	}
}

// Start registers routes and serves until the process ends
func (s *Server) Start() error {
	mux := http.NewServeMux()

	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return ApplyMiddleware(h, JWTMiddleware, JSONContentTypeMiddleware, ErrorMiddleware, LoggingMiddleware, CORSMiddleware)
	}

	mux.HandleFunc("POST /api/subscriptions/{id}/nwc", authed(s.StoreCredentialHandler))
	mux.HandleFunc("GET /api/subscriptions/{id}/nwc", authed(s.CredentialStatusHandler))
	mux.HandleFunc("DELETE /api/subscriptions/{id}/nwc", authed(s.RemoveCredentialHandler))
	mux.HandleFunc("GET /api/nwc/token", authed(s.IssueTokenHandler))

	mux.HandleFunc("POST /api/payments/run",
		ApplyMiddleware(s.RunPaymentsHandler, ErrorMiddleware, LoggingMiddleware))

	port := viper.GetInt("api_port")
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if viper.GetBool("use_https") {
		logger.Info("Starting HTTPS server", "port", port)
		return server.ListenAndServeTLS(viper.GetString("cert_file"), viper.GetString("key_file"))
	}

	logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}
