package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Resolver turns a lightning address into a payable invoice via the
// LNURL-pay flow: well-known endpoint, then the callback it names.
type Resolver struct {
	client *http.Client
	scheme string
}

// NewResolver builds a resolver whose outbound calls are bounded by
// timeout, so a stalled endpoint cannot hang a batch run
func NewResolver(timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{
		client: &http.Client{Timeout: timeout},
		scheme: "https",
	}
}

type lnurlPayResponse struct {
	Callback string `json:"callback"`
	Status   string `json:"status"`
	Reason   string `json:"reason"`
}

type lnurlInvoiceResponse struct {
	PR     string `json:"pr"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// ResolveInvoice fetches a payment request for amountSats addressed to a
// user@domain lightning address
func (r *Resolver) ResolveInvoice(ctx context.Context, lightningAddress string, amountSats int64) (string, error) {
	user, domain, err := splitLightningAddress(lightningAddress)
	if err != nil {
		return "", err
	}

	wellKnown := fmt.Sprintf("%s://%s/.well-known/lnurlp/%s", r.scheme, domain, user)
	var pay lnurlPayResponse
	if err := r.getJSON(ctx, wellKnown, &pay); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvoiceGenerationFailed, err)
	}
	if strings.EqualFold(pay.Status, "ERROR") {
		return "", fmt.Errorf("%w: %s", ErrInvoiceGenerationFailed, pay.Reason)
	}
	if pay.Callback == "" {
		return "", fmt.Errorf("%w: response has no callback", ErrInvoiceGenerationFailed)
	}

	callback, err := url.Parse(pay.Callback)
	if err != nil {
		return "", fmt.Errorf("%w: bad callback url: %v", ErrInvoiceGenerationFailed, err)
	}
	q := callback.Query()
	q.Set("amount", strconv.FormatInt(amountSats*1000, 10)) // millisats
	callback.RawQuery = q.Encode()

	var inv lnurlInvoiceResponse
	if err := r.getJSON(ctx, callback.String(), &inv); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvoiceGenerationFailed, err)
	}
	if strings.EqualFold(inv.Status, "ERROR") {
		return "", fmt.Errorf("%w: %s", ErrInvoiceGenerationFailed, inv.Reason)
	}
	if inv.PR == "" {
		return "", fmt.Errorf("%w: response has no payment request", ErrInvoiceGenerationFailed)
	}

	return inv.PR, nil
}

func (r *Resolver) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func splitLightningAddress(address string) (user, domain string, err error) {
	parts := strings.Split(address, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: malformed lightning address %q", ErrInvoiceGenerationFailed, address)
	}
	return parts[0], parts[1], nil
}
