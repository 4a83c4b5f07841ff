package webhooks

import (
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v81/webhook"
)

const testSecret = "whsec_test_secret"

func signedHeader(secret string, ts time.Time, payload []byte) http.Header {
	h := http.Header{}
	h.Set(TimestampHeader, strconv.FormatInt(ts.Unix(), 10))
	h.Set(SignatureHeader, Sign(secret, ts.Unix(), payload))
	return h
}

func TestHMACVerifier(t *testing.T) {
	now := time.Unix(1_780_000_000, 0)
	v := NewHMACVerifier(testSecret, 5*time.Minute)
	v.now = func() time.Time { return now }
	payload := []byte(`{"type":"payment.paid","data":{"payment_id":"PAY-1"}}`)

	if err := v.Verify(payload, signedHeader(testSecret, now, payload)); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	bare := signedHeader(testSecret, now, payload)
	bare.Set(SignatureHeader, bare.Get(SignatureHeader)[len("sha256="):])
	if err := v.Verify(payload, bare); err != nil {
		t.Fatalf("signature without prefix rejected: %v", err)
	}

	cases := map[string]http.Header{
		"wrong secret":  signedHeader("other", now, payload),
		"stale":         signedHeader(testSecret, now.Add(-6*time.Minute), payload),
		"future":        signedHeader(testSecret, now.Add(6*time.Minute), payload),
		"no headers":    {},
		"tampered body": signedHeader(testSecret, now, []byte(`{"type":"payment.paid","data":{"payment_id":"PAY-2"}}`)),
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			if err := v.Verify(payload, h); !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("expected ErrUnauthenticated, got %v", err)
			}
		})
	}
}

func TestStripeVerifier(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{"payment_reference":"PAY-1"}}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})

	v := NewStripeVerifier(testSecret, 5*time.Minute)
	h := http.Header{}
	h.Set(StripeSignatureHeader, signed.Header)
	if err := v.Verify(payload, h); err != nil {
		t.Fatalf("valid stripe signature rejected: %v", err)
	}

	if err := NewStripeVerifier("whsec_other", time.Minute).Verify(payload, h); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for wrong secret, got %v", err)
	}
	if err := v.Verify(payload, http.Header{}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for missing header, got %v", err)
	}
}

func TestNewVerifier(t *testing.T) {
	for _, kind := range []string{"hmac", "stripe", "none"} {
		v, err := NewVerifier(kind, testSecret, time.Minute)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if v.Name() != kind {
			t.Errorf("Name() = %q, want %q", v.Name(), kind)
		}
	}
	if _, err := NewVerifier("md5", testSecret, time.Minute); err == nil {
		t.Fatal("expected error for unknown verifier")
	}
	if err := (UnsignedVerifier{}).Verify([]byte("x"), nil); err != nil {
		t.Fatalf("unsigned verifier rejected: %v", err)
	}
}
