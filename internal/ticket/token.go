package ticket

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTLSeconds bounds how long a minted token may be presented. The
// ticket status is re-checked at redemption, so a leaked token only widens
// the scan window, never grants a second redemption.
const tokenTTLSeconds = 300

var errTokenInvalid = errors.New("scan token invalid")

type scanTokenClaims struct {
	TicketID string `json:"ticket_id"`
	EventID  string `json:"event_id"`
	jwt.RegisteredClaims
}

func signScanToken(secret []byte, ticket Ticket, issuedToUserID string, nowUnixUTC int64) (string, error) {
	issuedAt := time.Unix(nowUnixUTC, 0).UTC()
	claims := scanTokenClaims{
		TicketID: ticket.TicketID,
		EventID:  ticket.EventID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   issuedToUserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(tokenTTLSeconds * time.Second)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign scan token: %w", err)
	}
	return signed, nil
}

// parseScanToken verifies the signature and expiry against the injected
// clock. Expiry, tampering, and algorithm confusion all fail the same way.
func parseScanToken(secret []byte, signed string, nowUnixUTC int64) (scanTokenClaims, error) {
	var claims scanTokenClaims
	_, err := jwt.ParseWithClaims(signed, &claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return time.Unix(nowUnixUTC, 0).UTC() }),
	)
	if err != nil {
		return scanTokenClaims{}, fmt.Errorf("%w: %v", errTokenInvalid, err)
	}
	if claims.TicketID == "" || claims.EventID == "" {
		return scanTokenClaims{}, fmt.Errorf("%w: missing ticket or event claim", errTokenInvalid)
	}
	return claims, nil
}
