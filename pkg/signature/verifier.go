/**
 * @description
 * This package verifies timestamped HMAC signatures on inbound webhooks.
 * The header format is a comma-separated list of key=value pairs, for example
 * `t=1700000000,v1=5257a869...`. The signed content is "{t}.{raw body}" and the
 * signature is the hex-encoded HMAC-SHA256 of it under the shared secret.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: signature computation and constant-time compare.
 */
package signature

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

// DefaultTolerance is the accepted distance between the signed timestamp and now.
const DefaultTolerance = 300 * time.Second

var (
	ErrMalformedHeader   = errors.New("missing signature parts")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrStaleTimestamp    = errors.New("timestamp outside the tolerance zone")
)

// Error carries the failure kind plus detail. errors.Is matches the kind.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

type parsedHeader struct {
	timestamp  int64
	signatures [][]byte
}

func parseHeader(header string) (*parsedHeader, error) {
	var (
		ts     string
		haveTS bool
		sawV1  bool
		sigs   [][]byte
	)

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
			haveTS = true
		case "v1":
			sawV1 = true
			// A v1 value that is not hex can never equal a digest; it only
			// counts towards the header being well formed.
			if sig, err := hex.DecodeString(value); err == nil {
				sigs = append(sigs, sig)
			}
		}
	}

	if !haveTS || !sawV1 {
		return nil, &Error{Kind: ErrMalformedHeader}
	}

	timestamp, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, &Error{Kind: ErrMalformedHeader, Detail: "timestamp is not an integer"}
	}

	return &parsedHeader{timestamp: timestamp, signatures: sigs}, nil
}

// ComputeSignature returns the raw HMAC-SHA256 of "{t}.{body}".
func ComputeSignature(t int64, body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(t, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// Verify checks header against body and secret. It fails with ErrMalformedHeader
// when t or v1 is missing, ErrSignatureMismatch when no v1 matches, and
// ErrStaleTimestamp when |now - t| exceeds maxSkew.
func Verify(body []byte, header, secret string, now time.Time, maxSkew time.Duration) error {
	parsed, err := parseHeader(header)
	if err != nil {
		return err
	}

	expected := ComputeSignature(parsed.timestamp, body, secret)
	matched := false
	for _, sig := range parsed.signatures {
		if hmac.Equal(expected, sig) {
			matched = true
			break
		}
	}
	if !matched {
		return &Error{Kind: ErrSignatureMismatch}
	}

	// Bounds are compared in whole seconds; a time.Duration saturates for
	// timestamps centuries away from now.
	limit := int64(maxSkew / time.Second)
	nowSec := now.Unix()
	if parsed.timestamp < nowSec-limit || parsed.timestamp > nowSec+limit {
		return &Error{Kind: ErrStaleTimestamp, Detail: fmt.Sprintf("t=%d is more than %s from now", parsed.timestamp, maxSkew)}
	}

	return nil
}

// Sign builds a header accepted by Verify for the given body, secret and time.
func Sign(body []byte, secret string, t time.Time) string {
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(ComputeSignature(ts, body, secret)))
}

// Verifier binds a secret and tolerance so handlers only pass the request data.
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a Verifier. A non-positive tolerance falls back to DefaultTolerance.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance, now: time.Now}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool {
	return v != nil && v.secret != ""
}

// Verify checks body against header using the bound secret and the current time.
func (v *Verifier) Verify(body []byte, header string) error {
	return Verify(body, header, v.secret, v.now(), v.tolerance)
}
