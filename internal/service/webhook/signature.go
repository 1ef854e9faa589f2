package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Signature carries the authentication headers of a delivery.
type Signature struct {
	Value     string
	Timestamp string
}

func (s Signature) empty() bool {
	return s.Value == "" && s.Timestamp == ""
}

// Sign computes hex(HMAC-SHA256(secret, body || timestamp || secret)).
func Sign(secret string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(secret string, body []byte, sig Signature, now time.Time, tolerance time.Duration) error {
	if sig.Value == "" || sig.Timestamp == "" || secret == "" {
		return ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(sig.Timestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}

	if tolerance > 0 {
		skew := now.Sub(time.Unix(ts, 0))
		if skew < -tolerance || skew > tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	expected := Sign(secret, body, sig.Timestamp)
	got := strings.ToLower(strings.TrimSpace(sig.Value))
	if !hmac.Equal([]byte(expected), []byte(got)) {
		return ErrInvalidSignature
	}

	return nil
}
