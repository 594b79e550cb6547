package httpx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Gotriage-Signature"

// HMACAuth verifies signed batch submissions.
type HMACAuth struct {
	secret      []byte
	requireHMAC bool
	logger      *zap.Logger
}

// NewHMACAuth creates a verifier. When requireHMAC is false every request
// passes.
func NewHMACAuth(secret string, requireHMAC bool, logger *zap.Logger) *HMACAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HMACAuth{
		secret:      []byte(secret),
		requireHMAC: requireHMAC,
		logger:      logger,
	}
}

// Sign returns the signature a client sends for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Required reports whether submissions must be signed.
func (h *HMACAuth) Required() bool {
	return h != nil && h.requireHMAC
}

// VerifyHMAC validates the signature header against payload.
func (h *HMACAuth) VerifyHMAC(r *http.Request, payload []byte) bool {
	if !h.Required() {
		return true
	}

	if len(h.secret) == 0 {
		h.logger.Warn("hmac verification failed: no secret configured")
		return false
	}

	provided := strings.ToLower(strings.TrimSpace(r.Header.Get(SignatureHeader)))
	if provided == "" {
		h.logger.Info("hmac verification failed: missing signature header",
			zap.String("client_ip", getClientIP(r)))
		return false
	}

	expected := Sign(h.secret, payload)
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		h.logger.Info("hmac verification failed: signature mismatch",
			zap.String("client_ip", getClientIP(r)))
		return false
	}
	return true
}

// normalizeIP strips the port from addr.
func normalizeIP(addr string) string {
	// [::1]:8080 -> ::1
	if strings.HasPrefix(addr, "[") {
		if idx := strings.LastIndex(addr, "]"); idx > 0 {
			return addr[1:idx]
		}
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// getClientIP extracts the client IP considering proxies. Used for logging
// only.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return normalizeIP(r.RemoteAddr)
}
