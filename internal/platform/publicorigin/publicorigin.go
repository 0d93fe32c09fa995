// Package publicorigin turns the configured public origin into the absolute
// URLs handed to invitation recipients.
package publicorigin

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize lowercases scheme and host and drops a single trailing slash.
// Default ports are kept as written. Paths, queries and fragments are
// rejected; external_base_path carries the path.
func Normalize(origin string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(origin, "/"))
	if err != nil {
		return "", fmt.Errorf("publicorigin: invalid origin: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("publicorigin: %q must be an absolute http or https origin", origin)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", fmt.Errorf("publicorigin: %q must not carry a path, query, fragment or userinfo", origin)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

// Hostname returns the host without port or IPv6 brackets.
func Hostname(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("publicorigin: %q has no host", origin)
	}
	return strings.ToLower(u.Hostname()), nil
}

// LinkURL returns the absolute preview URL of a link token. origin must
// already be normalized.
func LinkURL(origin, basePath, token string) string {
	return origin + basePath + "/api/invitations/link/" + url.PathEscape(token)
}
