package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/spf13/viper"

	"github.com/btcpaydir/nwc-billing/internal/guard"
	"github.com/btcpaydir/nwc-billing/internal/logger"
	"github.com/btcpaydir/nwc-billing/internal/nwc"
)

type storeCredentialRequest struct {
	ConnectionString string `json:"connection_string"`
}

// StoreCredentialHandler stores an encrypted wallet connection for a
// subscription the caller owns. The plaintext never appears in the
// response or the logs.
func (s *Server) StoreCredentialHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	subscriptionID, ok := subscriptionIDFromPath(w, r)
	if !ok {
		return
	}

	if !s.gate(w, r, userID, guard.OpStore) {
		return
	}

	var req storeCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	meta, err := s.Credentials.Store(subscriptionID, req.ConnectionString, userID)
	if err != nil {
		s.writeCredentialError(w, err)
		return
	}

	logger.Info("credential stored",
		"subscription", subscriptionID,
		"connection", guard.SanitizeForLog(req.ConnectionString),
	)

	writeJSON(w, http.StatusOK, meta)
}

// CredentialStatusHandler reports whether a credential is stored, nothing
// more
func (s *Server) CredentialStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	subscriptionID, ok := subscriptionIDFromPath(w, r)
	if !ok {
		return
	}

	if !s.gate(w, r, userID, guard.OpAccess) {
		return
	}

	has, err := s.Credentials.HasCredential(subscriptionID, userID)
	if err != nil {
		s.writeCredentialError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscription_id": subscriptionID,
		"has_credential":  has,
	})
}

// RemoveCredentialHandler deletes the stored credential. Idempotent.
func (s *Server) RemoveCredentialHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	subscriptionID, ok := subscriptionIDFromPath(w, r)
	if !ok {
		return
	}

	if !s.gate(w, r, userID, guard.OpRemove) {
		return
	}

	if err := s.Credentials.Remove(subscriptionID, userID); err != nil {
		s.writeCredentialError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// IssueTokenHandler hands the caller a short-lived signed token for one
// operation kind, consumed when signed requests are required
func (s *Server) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	op := guard.Operation(r.URL.Query().Get("operation"))
	switch op {
	case guard.OpStore, guard.OpAccess, guard.OpRemove, guard.OpPayment:
	default:
		http.Error(w, "Unknown operation", http.StatusBadRequest)
		return
	}

	token, err := s.Guard.IssueToken(userID, op)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// RunPaymentsHandler triggers one scheduler batch. Reserved for the
// deployment's cron caller, authenticated by the admin API key.
func (s *Server) RunPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	adminKey := viper.GetString("admin_api_key")
	if adminKey == "" || r.Header.Get("X-Admin-Key") != adminKey {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	results, err := s.Scheduler.ProcessAllDuePayments(r.Context())
	if err != nil {
		logger.Error("payment batch failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processed": len(results),
		"succeeded": succeeded,
		"results":   results,
	})
}

// gate runs the access guard (and the optional signed-token check) for one
// request. Denials get generic bodies so callers cannot probe limits or
// existence.
func (s *Server) gate(w http.ResponseWriter, r *http.Request, userID uint, op guard.Operation) bool {
	decision := s.Guard.Check(strconv.FormatUint(uint64(userID), 10), op, clientIP(r))
	if !decision.Allowed {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":            "too many requests",
			"remaining_hourly": decision.RemainingHourly,
			"remaining_daily":  decision.RemainingDaily,
		})
		return false
	}

	if viper.GetBool("require_signed_requests") && (op == guard.OpStore || op == guard.OpRemove) {
		token := r.Header.Get("X-NWC-Token")
		if !s.Guard.RedeemToken(token, userID, op) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return false
		}
	}

	return true
}

func (s *Server) writeCredentialError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, nwc.ErrInvalidFormat):
		http.Error(w, "Invalid connection string", http.StatusBadRequest)
	case errors.Is(err, nwc.ErrNotFoundOrDenied):
		http.Error(w, "Subscription not found", http.StatusNotFound)
	case errors.Is(err, nwc.ErrNoCredentialStored):
		http.Error(w, "No wallet connection stored", http.StatusNotFound)
	default:
		logger.Error("credential operation failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func subscriptionIDFromPath(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "Invalid subscription id", http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
