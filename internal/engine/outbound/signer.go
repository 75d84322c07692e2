package outbound

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Signed request header names.
const (
	HeaderSignature    = "x-lanceiq-signature"
	HeaderSignatureAlg = "x-lanceiq-signature-alg"
	HeaderTimestamp    = "x-lanceiq-timestamp"
	HeaderNonce        = "x-lanceiq-nonce"
	HeaderSignatureKid = "x-lanceiq-signature-kid"

	signatureAlg = "hmac-sha256"
)

var (
	ErrInvalidTimestamp = errors.New("invalid_timestamp")
	ErrStaleTimestamp   = errors.New("stale_timestamp")
	ErrInvalidSignature = errors.New("invalid_signature")
)

// SignedHeaders is the set of headers attached to an outbound signed request.
type SignedHeaders struct {
	Signature string
	Alg       string
	Timestamp string
	Nonce     string
	Kid       string
}

// CreateSignedHeaders signs a body with a fresh nonce and the current time.
// The signature covers timestamp and nonce alongside the body, so neither can
// be swapped without invalidating it.
func CreateSignedHeaders(body []byte, secret, keyID string) SignedHeaders {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := uuid.New().String()

	return SignedHeaders{
		Signature: computeSignature(body, secret, timestamp, nonce),
		Alg:       signatureAlg,
		Timestamp: timestamp,
		Nonce:     nonce,
		Kid:       keyID,
	}
}

// Map renders the headers for transports that take a plain map.
func (s SignedHeaders) Map() map[string]string {
	m := map[string]string{
		HeaderSignature:    s.Signature,
		HeaderSignatureAlg: s.Alg,
		HeaderTimestamp:    s.Timestamp,
		HeaderNonce:        s.Nonce,
	}
	if s.Kid != "" {
		m[HeaderSignatureKid] = s.Kid
	}
	return m
}

// Apply sets the signed headers on an outgoing request.
func (s SignedHeaders) Apply(h http.Header) {
	h.Set(HeaderSignature, s.Signature)
	h.Set(HeaderSignatureAlg, s.Alg)
	h.Set(HeaderTimestamp, s.Timestamp)
	h.Set(HeaderNonce, s.Nonce)
	if s.Kid != "" {
		h.Set(HeaderSignatureKid, s.Kid)
	}
}

// VerifySignedRequest checks a signed request from the other direction:
// timestamp must parse and sit within the skew window, then the signature is
// compared in constant time. Replay suppression is a separate step; this
// function is stateless.
func VerifySignedRequest(body []byte, secret, timestamp, nonce, signature string, skew time.Duration) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}

	now := time.Now().Unix()
	window := int64(skew.Seconds())
	if ts < now-window || ts > now+window {
		return ErrStaleTimestamp
	}

	expected := computeSignature(body, secret, timestamp, nonce)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// computeSignature is HMAC-SHA256 over timestamp + "." + nonce + "." + body,
// hex encoded.
func computeSignature(body []byte, secret, timestamp, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(nonce))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
