package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the webhook signature: "t=<unix>,v1=<hex hmac>".
const SignatureHeader = "Payment-Signature"

var (
	ErrMissingSignature  = errors.New("missing signature")
	ErrMalformedHeader   = errors.New("malformed signature header")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrTimestampExpired  = errors.New("signature timestamp outside tolerance")
)

// Verifier checks webhook payloads signed with a shared secret.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier returns a Verifier. A zero tolerance disables the timestamp check.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Verify accepts the payload if any v1 signature in header matches.
func (v *Verifier) Verify(payload []byte, header string) error {
	if header == "" {
		return ErrMissingSignature
	}

	var (
		timestamp  int64
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrMalformedHeader
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrMalformedHeader)
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return ErrMalformedHeader
	}

	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(timestamp, 0))
		if age > v.tolerance || age < -v.tolerance {
			return ErrTimestampExpired
		}
	}

	expected := computeSignature(v.secret, timestamp, payload)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// Sign builds a signature header for payload at time t.
func Sign(secret string, payload []byte, t time.Time) string {
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeSignature([]byte(secret), ts, payload)))
}

func computeSignature(secret []byte, timestamp int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
