package payments

import (
	"fmt"
	"net/url"
	"strings"
)

const connStringScheme = "nostr+walletconnect://"

// ConnectionConfig is the parsed form of a wallet connection string
type ConnectionConfig struct {
	WalletPubkey string
	RelayURL     string
	Secret       string
}

// ParseConnectionString splits a nostr+walletconnect URI into the wallet
// pubkey, the relay endpoint, and the client secret. A string without a
// secret cannot authorize payments and is rejected.
func ParseConnectionString(s string) (*ConnectionConfig, error) {
	if !strings.HasPrefix(s, connStringScheme) {
		return nil, ErrInvalidConnectionString
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConnectionString, err)
	}

	cfg := &ConnectionConfig{
		WalletPubkey: u.Host,
		RelayURL:     u.Query().Get("relay"),
		Secret:       u.Query().Get("secret"),
	}

	if cfg.WalletPubkey == "" {
		return nil, ErrInvalidConnectionString
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: missing secret", ErrInvalidConnectionString)
	}

	return cfg, nil
}
