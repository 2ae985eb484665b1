// Package logging configures the service-wide zap logger.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production JSON logger. In dev mode it switches to the
// human-readable console encoder with debug level.
func New(devMode bool) (*zap.Logger, error) {
	if devMode {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// MaskEmail masks an email address for audit logs (e.g. jo****@example.com).
// Failures are logged with masked identifiers only.
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "****"
	}
	local := email[:at]
	domain := email[at:]
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + domain
	}
	return local[:2] + strings.Repeat("*", len(local)-2) + domain
}
