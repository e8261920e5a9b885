// Package security implements the SSRF host denylist and the short-lived
// MiAuth session tracker. Neither holds a network connection; both are
// pure, lock-guarded in-memory checks.
package security

import (
	"strconv"
	"strings"

	"github.com/hitalin/notedeck/internal/errs"
)

const maxHostLength = 253

var rejectedChars = []rune{'/', '?', '#', '@', ' ', '\n', '\r'}

var reservedSuffixes = []string{".local", ".internal", ".localhost"}

// ValidateHost normalizes input and rejects it if it names localhost, a
// private/link-local/ULA address, or a reserved suffix — the surface a
// Misskey-family host field must never be allowed to reach.
func ValidateHost(input string) (string, error) {
	host := strings.ToLower(strings.TrimSpace(input))

	if host == "" {
		return "", errs.InvalidInput("host must not be empty")
	}
	if len(host) > maxHostLength {
		return "", errs.InvalidInput("host exceeds maximum length")
	}
	for _, r := range rejectedChars {
		if strings.ContainsRune(host, r) {
			return "", errs.InvalidInput("host contains a disallowed character")
		}
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return "", errs.InvalidInput("host resolves to localhost")
	}
	if strings.HasPrefix(host, "127.") || host == "0.0.0.0" {
		return "", errs.InvalidInput("host resolves to a loopback address")
	}
	if host == "::1" || host == "[::1]" {
		return "", errs.InvalidInput("host resolves to a loopback address")
	}
	if strings.HasPrefix(host, "10.") {
		return "", errs.InvalidInput("host resolves to a private address")
	}
	if strings.HasPrefix(host, "192.168.") {
		return "", errs.InvalidInput("host resolves to a private address")
	}
	if strings.HasPrefix(host, "169.254.") {
		return "", errs.InvalidInput("host resolves to a link-local address")
	}
	if isPrivate172(host) {
		return "", errs.InvalidInput("host resolves to a private address")
	}
	if strings.HasPrefix(host, "[fc") || strings.HasPrefix(host, "[fd") {
		return "", errs.InvalidInput("host resolves to an IPv6 unique-local address")
	}
	if strings.HasPrefix(host, "[fe80:") {
		return "", errs.InvalidInput("host resolves to an IPv6 link-local address")
	}
	if strings.HasPrefix(host, "[::ffff:") {
		return "", errs.InvalidInput("host resolves to an IPv4-mapped IPv6 address")
	}
	for _, suffix := range reservedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return "", errs.InvalidInput("host uses a reserved suffix")
		}
	}

	return host, nil
}

// isPrivate172 detects the 172.16.0.0/12 range by parsing the second
// octet of a dotted-quad prefix.
func isPrivate172(host string) bool {
	if !strings.HasPrefix(host, "172.") {
		return false
	}
	rest := strings.TrimPrefix(host, "172.")
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return false
	}
	octet, err := strconv.Atoi(rest[:dot])
	if err != nil {
		return false
	}
	return octet >= 16 && octet <= 31
}
