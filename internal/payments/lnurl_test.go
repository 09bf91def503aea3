package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(serverURL string) (*Resolver, string) {
	r := NewResolver(time.Second)
	r.scheme = "http"
	u, _ := url.Parse(serverURL)
	return r, u.Host
}

func TestResolveInvoice(t *testing.T) {
	var gotAmount string
	mux := http.NewServeMux()

	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/.well-known/lnurlp/alice", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"callback": server.URL + "/lnurl/invoice",
		})
	})
	mux.HandleFunc("/lnurl/invoice", func(w http.ResponseWriter, r *http.Request) {
		gotAmount = r.URL.Query().Get("amount")
		json.NewEncoder(w).Encode(map[string]string{"pr": "lnbc210n1..."})
	})

	resolver, host := newTestResolver(server.URL)

	pr, err := resolver.ResolveInvoice(context.Background(), "alice@"+host, 21)
	require.NoError(t, err)
	assert.Equal(t, "lnbc210n1...", pr)
	assert.Equal(t, "21000", gotAmount, "amount is forwarded in millisats")
}

func TestResolveInvoiceFailures(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/.well-known/lnurlp/nocallback", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	})
	mux.HandleFunc("/.well-known/lnurlp/rejected", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ERROR", "reason": "account suspended"})
	})
	mux.HandleFunc("/.well-known/lnurlp/noinvoice", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"callback": server.URL + "/lnurl/empty"})
	})
	mux.HandleFunc("/lnurl/empty", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	})
	mux.HandleFunc("/.well-known/lnurlp/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	})

	resolver, host := newTestResolver(server.URL)

	for _, user := range []string{"nocallback", "rejected", "noinvoice", "gone"} {
		_, err := resolver.ResolveInvoice(context.Background(), fmt.Sprintf("%s@%s", user, host), 21)
		assert.ErrorIs(t, err, ErrInvoiceGenerationFailed, "user %s", user)
	}
}

func TestResolveInvoiceRejectsMalformedAddress(t *testing.T) {
	resolver := NewResolver(time.Second)

	for _, address := range []string{"", "nodomain@", "@nouser", "plain"} {
		_, err := resolver.ResolveInvoice(context.Background(), address, 21)
		assert.ErrorIs(t, err, ErrInvoiceGenerationFailed, "address %q", address)
	}
}
