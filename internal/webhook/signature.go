// Package webhook authenticates and decodes call-completion callbacks sent
// by the voice provider.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// HeaderSignature carries "t=<unix seconds>,v0=<hex hmac>".
	HeaderSignature = "X-Webhook-Signature"
	// HeaderProviderSignature is the same scheme under the name ElevenLabs
	// sends it.
	HeaderProviderSignature = "ElevenLabs-Signature"
)

var ErrSignatureInvalid = errors.New("webhook signature invalid")

// Verifier checks webhook signatures against a shared secret.
type Verifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier creates a Verifier. Signatures older or newer than maxSkew
// are rejected.
func NewVerifier(secret string, maxSkew time.Duration) *Verifier {
	return &Verifier{
		secret:  []byte(secret),
		maxSkew: maxSkew,
		now:     time.Now,
	}
}

// Header returns the signature header value from r, whichever name it
// arrived under.
func Header(r *http.Request) string {
	if v := r.Header.Get(HeaderSignature); v != "" {
		return v
	}
	return r.Header.Get(HeaderProviderSignature)
}

// Verify validates header against body. Every failure wraps
// ErrSignatureInvalid.
func (v *Verifier) Verify(header string, body []byte) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: no secret configured", ErrSignatureInvalid)
	}
	if header == "" {
		return fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}

	var tsRaw string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			tsRaw = val
		case "v0":
			sigs = append(sigs, val)
		}
	}
	if tsRaw == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed signature header", ErrSignatureInvalid)
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp", ErrSignatureInvalid)
	}
	skew := v.now().UTC().Sub(time.Unix(ts, 0).UTC())
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return fmt.Errorf("%w: timestamp outside allowed skew", ErrSignatureInvalid)
	}

	expected := []byte(sign(v.secret, tsRaw, body))
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: signature mismatch", ErrSignatureInvalid)
}

// Sign produces a header value for body at time now. Used by tests and the
// local mock provider.
func Sign(secret string, body []byte, now time.Time) string {
	ts := strconv.FormatInt(now.UTC().Unix(), 10)
	return "t=" + ts + ",v0=" + sign([]byte(secret), ts, body)
}

func sign(secret []byte, ts string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(ts))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
