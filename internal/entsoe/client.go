// Package entsoe fetches day-ahead electricity prices from the ENTSO-E
// transparency platform: windowed document queries with bounded
// exponential retry, XML decoding, and a liveness probe.
package entsoe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"emarket/internal/model"
)

// DefaultURL is the public transparency API endpoint.
const DefaultURL = "https://web-api.tp.entsoe.eu/api"

const (
	// queryLayout renders periodStart/periodEnd stamps, UTC.
	queryLayout = "200601021504"

	connectTimeout = 5 * time.Second
	requestTimeout = 15 * time.Second
	maxAttempts    = 5
)

// Config identifies the document stream to pull.
type Config struct {
	URL      string // endpoint; empty selects DefaultURL
	Token    string // securityToken
	Document string // documentType, A44 for day-ahead prices
	Domain   string // in_Domain / out_Domain EIC area code
}

// Client fetches price documents. Transient transport failures and
// 5xx responses are retried up to maxAttempts with exponential
// backoff; other status codes fail immediately.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger

	newBackOff func() backoff.BackOff
}

// New returns a Client for cfg.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		log: log,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAttempts-1)
		},
	}
}

// Fetch returns the points published for the window [from, to).
func (c *Client) Fetch(ctx context.Context, from, to time.Time) ([]model.Point, error) {
	u := c.queryURL(url.Values{
		"documentType": {c.cfg.Document},
		"in_Domain":    {c.cfg.Domain},
		"out_Domain":   {c.cfg.Domain},
		"periodStart":  {from.UTC().Format(queryLayout)},
		"periodEnd":    {to.UTC().Format(queryLayout)},
	})
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	points, skipped, err := ParseDocument(body)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		c.log.Warn().Int("periods", skipped).Msg("skipped unparseable periods")
	}
	return points, nil
}

// Live probes the endpoint with only the security token. The platform
// answers 400 (no interval given) when it is reachable and parsing
// requests; any other status means it is not serving us.
func (c *Client) Live(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.queryURL(nil), nil)
	if err != nil {
		return fmt.Errorf("probe upstream: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("probe upstream: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("probe upstream: unexpected status %s", resp.Status)
	}
	return nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("upstream request failed")
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			c.log.Warn().Str("status", resp.Status).Int("attempt", attempt).Msg("upstream server error")
			return fmt.Errorf("upstream status %s", resp.Status)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("upstream status %s", resp.Status))
		}
		body = data
		return nil
	}
	bo := backoff.WithContext(c.newBackOff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("get %s: %w", redactToken(u), err)
	}
	return body, nil
}

func (c *Client) queryURL(extra url.Values) string {
	q := url.Values{"securityToken": {c.cfg.Token}}
	for k, vs := range extra {
		q[k] = vs
	}
	return c.cfg.URL + "?" + q.Encode()
}

// redactToken hides the security token in error and log output.
func redactToken(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("securityToken") {
		q.Set("securityToken", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
