package guard

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcpaydir/nwc-billing/internal/logger"
)

// TokenTTL is how long an issued token stays redeemable. Secure tokens are
// short-lived capability strings binding a principal to one operation kind.
const TokenTTL = time.Hour

// IssueToken signs (principal, operation, now, nonce) with the master
// signing secret and returns base64(data:signature)
func (g *Guard) IssueToken(principalID uint, op Operation) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	data := fmt.Sprintf("%d|%s|%d|%s", principalID, op, g.now().Unix(), hex.EncodeToString(nonce))
	sig := g.sign(data)

	return base64.URLEncoding.EncodeToString([]byte(data + ":" + sig)), nil
}

// VerifyToken checks the principal and operation binding, the age, and the
// signature in constant time. Malformed input returns false, never an
// error.
func (g *Guard) VerifyToken(token string, principalID uint, op Operation) bool {
	_, ok := g.verify(token, principalID, op)
	return ok
}

// RedeemToken verifies the token and then burns its nonce so the same token
// cannot be presented twice. Without a nonce registry it behaves like
// VerifyToken.
func (g *Guard) RedeemToken(token string, principalID uint, op Operation) bool {
	nonce, ok := g.verify(token, principalID, op)
	if !ok {
		return false
	}
	if g.nonces == nil {
		return true
	}

	fresh, err := g.nonces.MarkUsed(nonce, g.now())
	if err != nil {
		// Fail closed: if replay state is unavailable the token is refused
		logger.Error("failed to record token nonce", "error", err)
		return false
	}
	return fresh
}

func (g *Guard) verify(token string, principalID uint, op Operation) (nonce string, ok bool) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", false
	}

	idx := strings.LastIndex(string(raw), ":")
	if idx < 0 {
		return "", false
	}
	data, sig := string(raw[:idx]), string(raw[idx+1:])

	parts := strings.Split(data, "|")
	if len(parts) != 4 {
		return "", false
	}

	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil || uint(id) != principalID {
		return "", false
	}
	if Operation(parts[1]) != op {
		return "", false
	}

	issued, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", false
	}
	age := g.now().Sub(time.Unix(issued, 0))
	if age < 0 || age > TokenTTL {
		return "", false
	}

	want := g.sign(data)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(want)) != 1 {
		return "", false
	}

	return parts[3], true
}

func (g *Guard) sign(data string) string {
	mac := hmac.New(sha256.New, g.signingSecret)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
