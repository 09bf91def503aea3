package guard

import (
	"net/url"
	"strings"
)

// SanitizeForLog reduces a connection string to scheme and host so the
// secret part can never reach a log line. Unparseable input is truncated
// instead.
func SanitizeForLog(connectionString string) string {
	u, err := url.Parse(connectionString)
	if err == nil && u.Scheme != "" {
		return u.Scheme + "://" + u.Host
	}

	if idx := strings.IndexAny(connectionString, "?&"); idx >= 0 {
		connectionString = connectionString[:idx]
	}
	if len(connectionString) > 24 {
		return connectionString[:24] + "..."
	}
	return connectionString
}
