package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

// NIP-47 wallet-connect event kinds
const (
	kindNWCRequest  = 23194
	kindNWCResponse = 23195
)

// RelayClient relays one payment instruction over a wallet connection and
// returns the proof of payment. Implementations are expected to be
// protocol complete; the dispatcher treats them as a black box.
type RelayClient interface {
	PayInvoice(ctx context.Context, conn *ConnectionConfig, invoice string) (preimage string, err error)
}

// NostrRelayClient drives the NIP-47 exchange over a nostr relay: publish
// an encrypted pay_invoice request, wait for the wallet service's response
// event, and decrypt the preimage out of it.
type NostrRelayClient struct {
	Timeout time.Duration
}

func NewNostrRelayClient(timeout time.Duration) *NostrRelayClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NostrRelayClient{Timeout: timeout}
}

type nwcRequest struct {
	Method string    `json:"method"`
	Params nwcParams `json:"params"`
}

type nwcParams struct {
	Invoice string `json:"invoice"`
}

type nwcResponse struct {
	ResultType string `json:"result_type"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Result *struct {
		Preimage string `json:"preimage"`
	} `json:"result"`
}

func (c *NostrRelayClient) PayInvoice(ctx context.Context, conn *ConnectionConfig, invoice string) (string, error) {
	if conn.RelayURL == "" {
		return "", fmt.Errorf("connection string names no relay")
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	relay, err := nostr.RelayConnect(ctx, conn.RelayURL)
	if err != nil {
		return "", fmt.Errorf("failed to connect to relay %s: %w", conn.RelayURL, err)
	}
	defer relay.Close()

	shared, err := nip04.ComputeSharedSecret(conn.WalletPubkey, conn.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to derive shared secret: %w", err)
	}

	payload, err := json.Marshal(nwcRequest{
		Method: "pay_invoice",
		Params: nwcParams{Invoice: invoice},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	content, err := nip04.Encrypt(string(payload), shared)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt request: %w", err)
	}

	pubkey, err := nostr.GetPublicKey(conn.Secret)
	if err != nil {
		return "", fmt.Errorf("connection secret is not a valid key: %w", err)
	}

	event := nostr.Event{
		PubKey:    pubkey,
		CreatedAt: nostr.Now(),
		Kind:      kindNWCRequest,
		Tags:      nostr.Tags{{"p", conn.WalletPubkey}},
		Content:   content,
	}
	if err := event.Sign(conn.Secret); err != nil {
		return "", fmt.Errorf("failed to sign request event: %w", err)
	}

	// Subscribe for the response before publishing so it cannot be missed
	sub, err := relay.Subscribe(ctx, nostr.Filters{{
		Kinds:   []int{kindNWCResponse},
		Authors: []string{conn.WalletPubkey},
		Tags:    nostr.TagMap{"e": []string{event.ID}},
	}})
	if err != nil {
		return "", fmt.Errorf("failed to subscribe for response: %w", err)
	}
	defer sub.Unsub()

	if err := relay.Publish(ctx, event); err != nil {
		return "", fmt.Errorf("failed to publish request event: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("timed out waiting for wallet response")
	case resp, ok := <-sub.Events:
		if !ok || resp == nil {
			return "", fmt.Errorf("relay closed the subscription")
		}

		decrypted, err := nip04.Decrypt(resp.Content, shared)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt wallet response: %w", err)
		}

		var result nwcResponse
		if err := json.Unmarshal([]byte(decrypted), &result); err != nil {
			return "", fmt.Errorf("failed to decode wallet response: %w", err)
		}
		if result.Error != nil {
			return "", fmt.Errorf("wallet refused payment: %s (%s)", result.Error.Message, result.Error.Code)
		}
		if result.Result == nil || result.Result.Preimage == "" {
			return "", fmt.Errorf("wallet response carries no preimage")
		}

		return result.Result.Preimage, nil
	}
}
