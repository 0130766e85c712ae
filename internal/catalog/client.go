// Package catalog posts one notification per exported artifact to the external
// catalog endpoint. Notifications are best-effort: callers log failures and
// never abort an export over them.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/stemforge/internal/config"
	"github.com/stemforge/pkg/logger"
)

// Client wraps the catalog notification API.
type Client struct {
	cfg     config.CatalogConfig
	client  *resty.Client
	limiter *rate.Limiter
}

// NewClient creates a catalog client. Returns nil when the integration is
// disabled or unconfigured; callers treat a nil client as "no catalog".
func NewClient(cfg config.CatalogConfig) *Client {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil
	}

	c := &Client{
		cfg: cfg,
		client: resty.New().
			SetTimeout(30 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(1 * time.Second),
	}

	if cfg.RateLimitRPM > 0 {
		rps := float64(cfg.RateLimitRPM) / 60.0
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		logger.Infof("🚦 Catalog rate limit: %d RPM", cfg.RateLimitRPM)
	}

	return c
}

// TrackInfo is the payload for one exported artifact. Field names follow the
// catalog's own schema.
type TrackInfo struct {
	Type         string `json:"Type"`
	Format       string `json:"Format"`
	Titre        string `json:"Titre"`
	Artiste      string `json:"Artiste"`
	Fichiers     string `json:"Fichiers"`
	Album        string `json:"Album,omitempty"`
	Style        string `json:"Style,omitempty"`
	Label        string `json:"Label,omitempty"`
	SousLabel    string `json:"Sous-label,omitempty"`
	DateDeSortie int64  `json:"Date de sortie"`
	BPM          int    `json:"BPM"`
	ArtisteOrig  string `json:"Artiste original,omitempty"`
	URL          string `json:"Url,omitempty"`
	ISRC         string `json:"ISRC,omitempty"`
	TrackID      string `json:"TRACK_ID,omitempty"`
}

// Notify posts one artifact record. Non-2xx responses are errors for the
// caller to log.
func (c *Client) Notify(ctx context.Context, info TrackInfo) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(c.cfg.Token).
		SetBody(info).
		Post(c.cfg.Endpoint)

	if err != nil {
		return fmt.Errorf("catalog request: %w", err)
	}

	if resp.StatusCode() != 200 && resp.StatusCode() != 202 {
		return fmt.Errorf("catalog error (%d): %s", resp.StatusCode(), resp.String())
	}

	logger.Debugf("📇 Catalog notified: %s [%s/%s]", info.Titre, info.Type, info.Format)
	return nil
}
