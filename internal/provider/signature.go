package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSignatureInvalid rejects a webhook delivery before any persistence.
var ErrSignatureInvalid = errors.New("invalid webhook signature")

// signatureTolerance bounds how far the signed timestamp may drift from the
// receiver's clock before a replayed delivery is rejected.
const signatureToleranceSeconds = 300

const (
	signaturePartTimestamp = "t"
	signaturePartV1        = "v1"
)

// VerifySignature checks a "t=<unix>,v1=<hex>" header against the raw body
// using the shared webhook secret. The MAC covers "<t>.<body>" so the
// timestamp cannot be swapped after signing.
func VerifySignature(secret []byte, body []byte, header string, nowUnixUTC int64) error {
	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}
	drift := nowUnixUTC - timestamp
	if drift < -signatureToleranceSeconds || drift > signatureToleranceSeconds {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
	}
	expected := computeSignature(secret, body, timestamp)
	for _, candidate := range signatures {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", ErrSignatureInvalid)
}

// ComputeSignatureHeader builds a header the verifier accepts. Exported for
// tests and local tooling that replay captured payloads.
func ComputeSignatureHeader(secret []byte, body []byte, timestampUnixUTC int64) string {
	signature := computeSignature(secret, body, timestampUnixUTC)
	return fmt.Sprintf("%s=%d,%s=%s", signaturePartTimestamp, timestampUnixUTC, signaturePartV1, signature)
}

func computeSignature(secret []byte, body []byte, timestampUnixUTC int64) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", timestampUnixUTC)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (int64, []string, error) {
	if strings.TrimSpace(header) == "" {
		return 0, nil, fmt.Errorf("%w: missing header", ErrSignatureInvalid)
	}
	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case signaturePartTimestamp:
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: malformed timestamp", ErrSignatureInvalid)
			}
			timestamp = parsed
		case signaturePartV1:
			signatures = append(signatures, value)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed header", ErrSignatureInvalid)
	}
	return timestamp, signatures, nil
}
