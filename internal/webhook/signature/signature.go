// Package signature implements HMAC message authentication for webhook
// payloads. The signed string is "{unix-seconds}.{payload-bytes}" and the
// header format is "t=<unix-seconds>,v1=<hex HMAC-SHA256>". Verification must
// run over the exact bytes received, never a re-serialization.
//
// The timestamp bounds replay beyond the tolerance window; there is no
// nonce-based replay protection inside the window. That is an accepted
// limitation of the scheme, not a bug.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the maximum accepted clock skew between signing and
// verification.
const DefaultTolerance = 5 * time.Minute

// Verification failures. Each is terminal for the inbound request; none is
// retryable by definition.
var (
	ErrMalformed = errors.New("malformed signature header")
	ErrStale     = errors.New("signature timestamp outside tolerance")
	ErrMismatch  = errors.New("signature mismatch")
)

// Sign computes the signature header for payload at the given time.
func Sign(payload, secret []byte, now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac(payload, secret, ts))
}

// Verify checks a signature header against the exact payload bytes.
// tolerance <= 0 falls back to DefaultTolerance.
func Verify(payload []byte, header string, secret []byte, now time.Time, tolerance time.Duration) error {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	ts, sig, err := parseHeader(header)
	if err != nil {
		return err
	}

	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(tolerance/time.Second) {
		return ErrStale
	}

	expected := mac(payload, secret, strconv.FormatInt(ts, 10))
	// Length check before content comparison; ConstantTimeCompare returns 0
	// for unequal lengths without examining bytes.
	if len(sig) != len(expected) || subtle.ConstantTimeCompare(sig, expected) != 1 {
		return ErrMismatch
	}
	return nil
}

func parseHeader(header string) (ts int64, sig []byte, err error) {
	var tsPart, sigPart string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			tsPart = value
		case "v1":
			sigPart = value
		}
	}
	if tsPart == "" || sigPart == "" {
		return 0, nil, ErrMalformed
	}

	ts, err = strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, nil, ErrMalformed
	}
	sig, err = hex.DecodeString(sigPart)
	if err != nil {
		return 0, nil, ErrMalformed
	}
	return ts, sig, nil
}

func mac(payload, secret []byte, ts string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(payload)
	return h.Sum(nil)
}
