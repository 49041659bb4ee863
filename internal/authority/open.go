package authority

import (
	"context"
	"fmt"
	"strings"

	"fieldsync/internal/config"
)

// Open builds the client for the configured driver. The returned close
// function is never nil.
func Open(ctx context.Context, cfg *config.Config) (Client, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Authority.Driver)) {
	case "", "http":
		client, err := NewHTTPClient(
			cfg.Authority.BaseURL,
			cfg.Authority.APIKey,
			cfg.AuthorityTimeout(),
			WithRateLimit(cfg.Authority.RequestsPerSecond, cfg.Authority.Burst),
			WithHealthPath(cfg.Authority.HealthPath),
		)
		if err != nil {
			return nil, noop, err
		}
		return client, noop, nil
	case "postgres":
		openCtx, cancel := context.WithTimeout(ctx, cfg.AuthorityTimeout())
		defer cancel()
		client, err := OpenPostgres(openCtx, cfg.Authority.DSN)
		if err != nil {
			return nil, noop, err
		}
		return client, client.Close, nil
	case "memory":
		return NewMemory(), noop, nil
	default:
		return nil, noop, fmt.Errorf("authority driver: unsupported value %q", cfg.Authority.Driver)
	}
}
