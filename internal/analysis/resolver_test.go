package analysis

import (
	"context"
	"errors"
	"testing"
)

type mapResolver map[string]string

func (m mapResolver) Resolve(_ context.Context, name string) (string, error) {
	return m[name], nil
}

type brokenResolver struct{}

func (brokenResolver) Resolve(context.Context, string) (string, error) {
	return "", errors.New("unreachable")
}

func TestChainResolver(t *testing.T) {
	chain := ChainResolver{
		brokenResolver{},
		mapResolver{"warfarin": "11289"},
		mapResolver{"warfarin": "other", "metformin": "6809"},
	}
	ctx := context.Background()

	tests := []struct {
		name string
		want string
	}{
		{"warfarin", "11289"},
		{"metformin", "6809"},
		{"unknown", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := chain.Resolve(ctx, tt.name)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
