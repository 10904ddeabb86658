package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"

	webhookSecretPrefix = "whsec_"
	webhookTolerance    = 5 * time.Minute
)

// WebhookVerifier checks identity-provider webhook signatures. The signed
// content is "{id}.{timestamp}.{body}" HMAC-SHA256'd with the shared secret;
// the signature header carries space-separated "v1,<base64>" entries to
// allow key rotation.
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
}

func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is empty")
	}
	encoded := strings.TrimPrefix(secret, webhookSecretPrefix)
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	return &WebhookVerifier{secret: key, tolerance: webhookTolerance}, nil
}

func (v *WebhookVerifier) Verify(id string, timestamp string, signatureHeader string, body []byte) error {
	if id == "" || timestamp == "" || signatureHeader == "" {
		return fmt.Errorf("missing webhook signature headers")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed webhook timestamp: %w", err)
	}
	if drift := time.Since(time.Unix(ts, 0)); drift > v.tolerance || drift < -v.tolerance {
		return fmt.Errorf("webhook timestamp outside tolerance")
	}

	expected := v.sign(id, timestamp, body)
	for _, entry := range strings.Fields(signatureHeader) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return fmt.Errorf("webhook signature mismatch")
}

func (v *WebhookVerifier) sign(id string, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
