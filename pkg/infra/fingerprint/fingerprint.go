package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const prefix = "fp_"

var userHeaders = []string{
	"x-user-id",
	"x-userid",
	"user-id",
}

// Compute derives a device fingerprint from header heuristics. It returns an empty
// string when no user agent is present.
func Compute(userAgent, accept, acceptLanguage, acceptEncoding string) string {
	userAgent = strings.ToLower(strings.TrimSpace(userAgent))
	if userAgent == "" {
		return ""
	}
	raw := strings.Join([]string{
		userAgent,
		strings.ToLower(strings.TrimSpace(accept)),
		strings.ToLower(strings.TrimSpace(acceptLanguage)),
		strings.ToLower(strings.TrimSpace(acceptEncoding)),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return prefix + hex.EncodeToString(sum[:16])
}

// FromHeaders computes the fingerprint from lower-case header names.
func FromHeaders(headers map[string]string) string {
	return Compute(
		headers["user-agent"],
		headers["accept"],
		headers["accept-language"],
		headers["accept-encoding"],
	)
}

// UserID resolves the caller's user id for attribution. Explicit user headers win over the
// bearer token subject. The token signature is not verified.
func UserID(headers map[string]string) string {
	for _, h := range userHeaders {
		if v := strings.TrimSpace(headers[h]); v != "" {
			return v
		}
	}
	auth := headers["authorization"]
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return subject(strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")))
}

func subject(token string) string {
	if token == "" {
		return ""
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	return claims.Subject
}

func IsFingerprint(id string) bool {
	return strings.HasPrefix(id, prefix) && len(id) == len(prefix)+32
}
