package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/storegate/internal/log"
)

// TenantWriter is anything that can apply a tenant upsert. *Store satisfies it.
type TenantWriter interface {
	Name() string
	UpsertTenantRecord(ctx context.Context, domain string, f TenantFields) error
}

// TenantChain applies the same tenant write to an ordered list of writers,
// stopping at the first that succeeds. Every writer must reach the database
// the gateway reads tenants from; they differ only in credential.
type TenantChain struct {
	writers []TenantWriter
	logger  *slog.Logger
}

func NewTenantChain(logger *slog.Logger, writers ...TenantWriter) *TenantChain {
	if logger == nil {
		logger = log.WithComponent("store")
	}
	var ws []TenantWriter
	for _, w := range writers {
		if w != nil {
			ws = append(ws, w)
		}
	}
	return &TenantChain{writers: ws, logger: logger}
}

// UpsertTenantRecord returns the name of the writer that succeeded.
func (c *TenantChain) UpsertTenantRecord(ctx context.Context, domain string, f TenantFields) (string, error) {
	if len(c.writers) == 0 {
		return "", fmt.Errorf("no tenant writers configured")
	}

	var errs []error
	for i, w := range c.writers {
		err := w.UpsertTenantRecord(ctx, domain, f)
		if err == nil {
			c.logger.Info("tenant record written",
				"tenant_domain", domain,
				"client", w.Name(),
				"fallback", i > 0,
			)
			return w.Name(), nil
		}
		// Invalid input fails the same way on every client.
		if errors.Is(err, ErrEmptyDomain) || errors.Is(err, ErrPartialProvision) {
			return "", err
		}
		c.logger.Warn("tenant record write failed",
			"tenant_domain", domain,
			"client", w.Name(),
			"error", err,
		)
		errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
	}
	return "", errors.Join(errs...)
}
