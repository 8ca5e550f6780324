package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HMACSignatureService implements ports.SignatureService using HMAC-SHA256.
// It authenticates inbound gateway callbacks against the shared webhook secret.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign computes HMAC-SHA256 of payload using secretKey.
// Returns lowercase hex-encoded signature.
func (s *HMACSignatureService) Sign(secretKey string, payload string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks if signature matches HMAC-SHA256(secretKey, payload).
// Accepts an optional "sha256=" prefix and any hex case.
func (s *HMACSignatureService) Verify(secretKey string, payload string, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	signature = strings.TrimPrefix(signature, "sha256=")
	expected := s.Sign(secretKey, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
