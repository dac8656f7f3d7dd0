package signature

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v80/webhook"
)

const testSecret = "whsec_test_secret"

var testBody = []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)

func TestVerify_AcceptsFreshValidSignature(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	header := Sign(testBody, testSecret, now)

	if err := Verify(testBody, header, testSecret, now, DefaultTolerance); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerify_ToleranceBoundary(t *testing.T) {
	signedAt := time.Unix(1_760_000_000, 0)
	header := Sign(testBody, testSecret, signedAt)

	tests := []struct {
		name    string
		now     time.Time
		wantErr error
	}{
		{name: "exactly at tolerance in the past", now: signedAt.Add(300 * time.Second)},
		{name: "exactly at tolerance in the future", now: signedAt.Add(-300 * time.Second)},
		{name: "one second too old", now: signedAt.Add(301 * time.Second), wantErr: ErrStaleTimestamp},
		{name: "one second too far ahead", now: signedAt.Add(-301 * time.Second), wantErr: ErrStaleTimestamp},
		{name: "hours old", now: signedAt.Add(6 * time.Hour), wantErr: ErrStaleTimestamp},
		{name: "four centuries old", now: signedAt.AddDate(400, 0, 0), wantErr: ErrStaleTimestamp},
		{name: "four centuries ahead", now: signedAt.AddDate(-400, 0, 0), wantErr: ErrStaleTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(testBody, header, testSecret, tt.now, DefaultTolerance)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestVerify_MalformedHeaders(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	valid := Sign(testBody, testSecret, now)
	v1 := valid[strings.Index(valid, "v1="):]

	headers := map[string]string{
		"empty":             "",
		"missing timestamp": v1,
		"missing v1":        fmt.Sprintf("t=%d", now.Unix()),
		"only v0":           fmt.Sprintf("t=%d,v0=abcdef", now.Unix()),
		"garbage":           "not-a-signature",
		"non numeric t":     "t=yesterday," + v1,
	}

	for name, header := range headers {
		t.Run(name, func(t *testing.T) {
			err := Verify(testBody, header, testSecret, now, DefaultTolerance)
			if !errors.Is(err, ErrMalformedHeader) {
				t.Fatalf("expected ErrMalformedHeader, got %v", err)
			}
		})
	}
}

func TestVerify_SingleBitBodyMutationIsMismatch(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	header := Sign(testBody, testSecret, now)

	for i := range testBody {
		mutated := append([]byte(nil), testBody...)
		mutated[i] ^= 0x01

		err := Verify(mutated, header, testSecret, now, DefaultTolerance)
		if !errors.Is(err, ErrSignatureMismatch) {
			t.Fatalf("byte %d: expected ErrSignatureMismatch, got %v", i, err)
		}
	}
}

func TestVerify_SingleBitSignatureMutationIsMismatch(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	header := Sign(testBody, testSecret, now)
	sigStart := strings.Index(header, "v1=") + len("v1=")

	for i := sigStart; i < len(header); i++ {
		mutated := []byte(header)
		mutated[i] ^= 0x01

		err := Verify(testBody, string(mutated), testSecret, now, DefaultTolerance)
		if !errors.Is(err, ErrSignatureMismatch) {
			t.Fatalf("position %d: expected ErrSignatureMismatch, got %v", i, err)
		}
	}
}

func TestVerify_WrongSecretIsMismatch(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	header := Sign(testBody, "another-secret", now)

	err := Verify(testBody, header, testSecret, now, DefaultTolerance)
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestVerify_StaleButCorrectlySignedIsStale(t *testing.T) {
	signedAt := time.Unix(1_700_000_000, 0)
	header := Sign(testBody, testSecret, signedAt)

	err := Verify(testBody, header, testSecret, signedAt.Add(time.Hour), DefaultTolerance)
	if !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestVerify_AnyOfSeveralV1SignaturesMayMatch(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	good := Sign(testBody, testSecret, now)
	goodV1 := good[strings.Index(good, "v1="):]
	header := fmt.Sprintf("t=%d,v1=%s,%s", now.Unix(), strings.Repeat("0", 64), goodV1)

	if err := Verify(testBody, header, testSecret, now, DefaultTolerance); err != nil {
		t.Fatalf("expected rotated-secret header to verify, got %v", err)
	}
}

func TestSign_IsAcceptedByStripeLibrary(t *testing.T) {
	header := Sign(testBody, testSecret, time.Now())

	if err := webhook.ValidatePayload(testBody, header, testSecret); err != nil {
		t.Fatalf("stripe-go rejected our header: %v", err)
	}
}

func TestVerify_AcceptsStripeLibraryHeader(t *testing.T) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   testBody,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})

	v := NewVerifier(testSecret, 0)
	if err := v.Verify(testBody, signed.Header); err != nil {
		t.Fatalf("expected stripe-go generated header to verify, got %v", err)
	}
}

func TestVerifier_Enabled(t *testing.T) {
	if NewVerifier("", 0).Enabled() {
		t.Fatalf("expected verifier without secret to be disabled")
	}
	if !NewVerifier(testSecret, time.Minute).Enabled() {
		t.Fatalf("expected verifier with secret to be enabled")
	}
	var nilVerifier *Verifier
	if nilVerifier.Enabled() {
		t.Fatalf("expected nil verifier to be disabled")
	}
}

func TestVerify_ExtremeTimestampsAreStale(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)

	for _, ts := range []int64{math.MaxInt64, math.MinInt64, 0, -1} {
		header := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(ComputeSignature(ts, testBody, testSecret)))

		err := Verify(testBody, header, testSecret, now, DefaultTolerance)
		if !errors.Is(err, ErrStaleTimestamp) {
			t.Fatalf("t=%d: expected ErrStaleTimestamp, got %v", ts, err)
		}
	}
}
