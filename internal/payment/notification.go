package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries hex(HMAC-SHA256(body, secret)) on notifications.
const SignatureHeader = "X-Processor-Signature"

var (
	ErrInvalidSignature      = errors.New("notification signature mismatch")
	ErrMalformedNotification = errors.New("malformed notification")
)

type Outcome string

const (
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeError     Outcome = "ERROR"
	OutcomeCanceled  Outcome = "CANCELED"
	OutcomeDenied    Outcome = "DENIED"
	OutcomeExpired   Outcome = "EXPIRED"
)

func (o Outcome) Succeeded() bool {
	return o == OutcomeCompleted
}

func (o Outcome) valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeError, OutcomeCanceled, OutcomeDenied, OutcomeExpired:
		return true
	}
	return false
}

// Notification is the processor's out-of-band confirmation of a payment.
type Notification struct {
	PaymentKey string  `json:"paymentKey"`
	Outcome    Outcome `json:"outcome"`
}

// ParseNotification verifies the signature when a secret is configured and
// decodes the payload.
func ParseNotification(body []byte, signature, secret string) (*Notification, error) {
	if secret != "" && !VerifySignature(body, signature, secret) {
		return nil, ErrInvalidSignature
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	n.Outcome = Outcome(strings.ToUpper(strings.TrimSpace(string(n.Outcome))))
	if n.PaymentKey == "" {
		return nil, fmt.Errorf("%w: missing paymentKey", ErrMalformedNotification)
	}
	if !n.Outcome.valid() {
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrMalformedNotification, n.Outcome)
	}
	return &n, nil
}

func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(body []byte, signature, secret string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
