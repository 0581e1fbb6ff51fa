// Package rxnorm resolves drug names to RxNorm concept identifiers through
// the RxNav REST API.
package rxnorm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rxguard/rxguard/internal/cache"
	"github.com/rxguard/rxguard/internal/domain"
)

const (
	// HitTTL is how long a resolved identifier stays cached.
	HitTTL = 24 * time.Hour
	// MissTTL is how long a name RxNav does not know stays cached.
	MissTTL = time.Hour
)

// Client looks up RxCUIs and caches the answers, including misses.
type Client struct {
	http  *resty.Client
	cache domain.Cache
}

type cachedID struct {
	RxCUI string `json:"rxcui"`
}

type rxcuiResponse struct {
	IDGroup struct {
		Name     string   `json:"name"`
		RxNormID []string `json:"rxnormId"`
	} `json:"idGroup"`
}

// NewClient creates a client for the RxNav base URL. cache may be nil.
func NewClient(baseURL string, c domain.Cache, timeout time.Duration, retries int) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")
	return &Client{http: client, cache: c}
}

// Resolve returns the RxCUI for name, or an empty string when RxNav has no
// match. Errors mean the service could not be asked.
func (c *Client) Resolve(ctx context.Context, name string) (string, error) {
	name = strings.ToLower(strings.Join(strings.Fields(name), " "))
	if name == "" {
		return "", nil
	}
	key := cache.Key("rxnorm", name)

	if c.cache != nil {
		var hit cachedID
		found, err := cache.GetJSON(ctx, c.cache, key, &hit)
		if err != nil {
			slog.Warn("rxnorm cache read failed", "drug", name, "error", err)
		} else if found {
			return hit.RxCUI, nil
		}
	}

	var body rxcuiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"name": name, "search": "1"}).
		SetResult(&body).
		Get("/rxcui.json")
	if err != nil {
		return "", fmt.Errorf("rxnorm lookup %q: %w", name, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("rxnorm lookup %q: status %d", name, resp.StatusCode())
	}

	var id string
	if len(body.IDGroup.RxNormID) > 0 {
		id = body.IDGroup.RxNormID[0]
	}

	if c.cache != nil {
		ttl := HitTTL
		if id == "" {
			ttl = MissTTL
		}
		if err := cache.SetJSON(ctx, c.cache, key, cachedID{RxCUI: id}, ttl); err != nil {
			slog.Warn("rxnorm cache write failed", "drug", name, "error", err)
		}
	}

	slog.Debug("rxnorm lookup", "drug", name, "rxcui", id)
	return id, nil
}
