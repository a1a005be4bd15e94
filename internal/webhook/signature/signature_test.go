package signature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	payload = []byte(`{"id":"evt_1","event":"project.created"}`)
	secret  = []byte("whsec_test_secret")
)

func TestSignVerifyRoundTrip(t *testing.T) {
	now := time.Now()
	header := Sign(payload, secret, now)

	require.NoError(t, Verify(payload, header, secret, now, 0))

	// Skew inside the tolerance window still verifies, in both directions.
	require.NoError(t, Verify(payload, header, secret, now.Add(4*time.Minute), 0))
	require.NoError(t, Verify(payload, header, secret, now.Add(-4*time.Minute), 0))
}

func TestVerifyRejectsStaleSignature(t *testing.T) {
	now := time.Now()
	header := Sign(payload, secret, now)

	err := Verify(payload, header, secret, now.Add(6*time.Minute), 0)
	require.ErrorIs(t, err, ErrStale)

	// A custom tolerance widens the window.
	require.NoError(t, Verify(payload, header, secret, now.Add(6*time.Minute), 10*time.Minute))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	now := time.Now()
	header := Sign(payload, secret, now)

	tampered := []byte(`{"id":"evt_1","event":"project.deleted"}`)
	require.ErrorIs(t, Verify(tampered, header, secret, now, 0), ErrMismatch)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	header := Sign(payload, secret, now)

	require.ErrorIs(t, Verify(payload, header, []byte("whsec_other"), now, 0), ErrMismatch)
}

func TestVerifyRejectsMalformedHeaders(t *testing.T) {
	now := time.Now()
	headers := []string{
		"",
		"v1=deadbeef",
		"t=1700000000",
		"t=notanumber,v1=deadbeef",
		"t=1700000000,v1=zzzz",
		"garbage",
	}
	for _, header := range headers {
		require.ErrorIs(t, Verify(payload, header, secret, now, 0), ErrMalformed, "header %q", header)
	}
}

func TestVerifyCoversExactBytes(t *testing.T) {
	now := time.Now()
	header := Sign(payload, secret, now)

	// Semantically identical JSON with different bytes must not verify;
	// subscribers sign-check the raw body, never a re-serialization.
	reserialized := []byte(`{"event":"project.created","id":"evt_1"}`)
	require.ErrorIs(t, Verify(reserialized, header, secret, now, 0), ErrMismatch)
}

func TestHeaderFormat(t *testing.T) {
	now := time.Unix(1700000000, 0)
	header := Sign(payload, secret, now)
	require.Regexp(t, `^t=1700000000,v1=[0-9a-f]{64}$`, header)
}
