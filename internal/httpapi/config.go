package httpapi

import (
	"fmt"
	"strings"
)

const (
	defaultListenAddr      = ":8090"
	defaultAllowedOrigin   = "http://localhost:8000"
	defaultSessionIssuer   = "tauth"
	defaultSessionCookie   = "app_session"
	defaultSignatureHeader = "Payment-Signature"
	defaultDrainBatchSize  = 25
	walletHistoryLimit     = 10
)

// Config aggregates runtime settings for the payments API.
type Config struct {
	ListenAddr        string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	SignatureHeader   string
	SchedulerSecret   string
	DrainBatchSize    int
}

// Validate ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.SignatureHeader = defaultIfEmpty(cfg.SignatureHeader, defaultSignatureHeader)
	if cfg.DrainBatchSize <= 0 {
		cfg.DrainBatchSize = defaultDrainBatchSize
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("session signing key is required")
	}
	if strings.TrimSpace(cfg.SchedulerSecret) == "" {
		return fmt.Errorf("scheduler secret is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

// WalletHistoryLimit returns how many ledger entries the wallet endpoint
// returns.
func WalletHistoryLimit() int {
	return walletHistoryLimit
}
