package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the request header carrying the gateway signature.
const SignatureHeader = "Payment-Signature"

const DefaultTolerance = 5 * time.Minute

// SignatureVerifier checks headers of the form "t=<unix>,v1=<hex>", where the
// hex value is HMAC-SHA256(secret, "<unix>.<payload>").
type SignatureVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

type VerifierOption func(*SignatureVerifier)

func WithTolerance(d time.Duration) VerifierOption {
	return func(v *SignatureVerifier) {
		v.tolerance = d
	}
}

func WithClock(now func() time.Time) VerifierOption {
	return func(v *SignatureVerifier) {
		v.now = now
	}
}

func NewSignatureVerifier(secret string, opts ...VerifierOption) *SignatureVerifier {
	v := &SignatureVerifier{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *SignatureVerifier) Verify(signature string, payload []byte) bool {
	timestamp, signatures := parseSignature(signature)
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(unix, 0))
		if age > v.tolerance || age < -v.tolerance {
			return false
		}
	}

	expected := computeMAC(v.secret, timestamp, payload)
	for _, sig := range signatures {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return true
		}
	}
	return false
}

// Sign builds a header value accepted by a verifier holding the same secret.
func Sign(secret string, payload []byte, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := computeMAC([]byte(secret), timestamp, payload)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac))
}

func computeMAC(secret []byte, timestamp string, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseSignature(header string) (string, []string) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	return timestamp, signatures
}
