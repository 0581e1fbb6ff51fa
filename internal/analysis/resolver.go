package analysis

import (
	"context"
	"log/slog"
)

// IdentifierResolver maps a drug name to a normalized identifier. An empty
// result with a nil error means the name is unknown.
type IdentifierResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// ChainResolver asks each resolver in turn and returns the first non-empty
// identifier. A failing resolver is logged and skipped.
type ChainResolver []IdentifierResolver

// Resolve implements IdentifierResolver.
func (c ChainResolver) Resolve(ctx context.Context, name string) (string, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		id, err := r.Resolve(ctx, name)
		if err != nil {
			slog.Warn("identifier resolver failed", "drug", name, "error", err)
			continue
		}
		if id != "" {
			return id, nil
		}
	}
	return "", nil
}
