// Package envelope builds and decodes the forwarding envelope: the immutable
// wire payload carrying an ingested event's original bytes to a destination.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// headerAllowlist is the fixed set of source headers an envelope may carry.
// Everything else is dropped: forwarded payloads travel to third-party
// destinations and must never leak Authorization headers or platform API
// keys. An allowlist, never a blocklist.
var headerAllowlist = map[string]bool{
	"content-type":         true,
	"stripe-signature":     true,
	"paypal-transmission-sig": true,
	"x-hub-signature":      true,
	"x-hub-signature-256":  true,
	"x-signature":          true,
	"webhook-id":           true,
	"webhook-signature":    true,
	"webhook-timestamp":    true,
	"x-request-id":         true,
	"x-delivery-id":        true,
	"x-github-delivery":    true,
	"idempotency-key":      true,
}

type Metadata struct {
	IngestedEventID  string `json:"ingested_event_id"`
	DetectedProvider string `json:"detected_provider"`
	ProviderEventID  string `json:"provider_event_id"`
}

// Envelope is the versioned wire format. The tag field self-identifies the
// payload so a decoder can distinguish "not ours" from "corrupt".
type Envelope struct {
	ForwardingV1      bool              `json:"_lanceiq_forwarding_v1"`
	RawBodyBase64     string            `json:"raw_body_base64"`
	SourceContentType string            `json:"source_content_type"`
	SourceHeaders     map[string]string `json:"source_headers"`
	Metadata          Metadata          `json:"metadata"`
}

// Build constructs an envelope from an ingested event's raw bytes. Header
// names are compared case-insensitively; a zero-length body is valid and
// round-trips as zero bytes.
func Build(rawBody []byte, sourceHeaders map[string]string, sourceContentType string, meta Metadata) Envelope {
	headers := make(map[string]string)
	for name, value := range sourceHeaders {
		lowered := strings.ToLower(name)
		if headerAllowlist[lowered] {
			headers[lowered] = value
		}
	}

	return Envelope{
		ForwardingV1:      true,
		RawBodyBase64:     base64.StdEncoding.EncodeToString(rawBody),
		SourceContentType: sourceContentType,
		SourceHeaders:     headers,
		Metadata:          meta,
	}
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode extracts the original raw bytes from an encoded envelope. The bool
// result is false for anything that is not a well-formed tagged envelope;
// callers use it to tell foreign payloads apart from corrupt ones without an
// error value.
func Decode(data []byte) (Envelope, []byte, bool) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, nil, false
	}
	if !e.ForwardingV1 {
		return Envelope{}, nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(e.RawBodyBase64)
	if err != nil {
		return Envelope{}, nil, false
	}
	if raw == nil {
		raw = []byte{}
	}
	return e, raw, true
}
