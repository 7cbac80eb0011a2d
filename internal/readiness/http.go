package readiness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// requestTimeout bounds a single probe request.
const requestTimeout = 2 * time.Second

// HTTPConfig configures an endpoint probe.
type HTTPConfig struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type httpProbe struct {
	cfg    HTTPConfig
	client *http.Client
}

// HTTP returns a probe that is ready once GET cfg.URL answers 200.
func HTTP(cfg HTTPConfig) Probe {
	cfg = cfg.withDefaults()
	return &httpProbe{cfg: cfg, client: newProbeClient()}
}

func (p *httpProbe) Name() string {
	return "http " + p.cfg.URL
}

func (p *httpProbe) Wait(ctx context.Context, target Target) error {
	defer p.client.CloseIdleConnections()

	log := p.cfg.Logger
	return WaitReady(ctx, target, PollConfig{
		Interval: p.cfg.Interval,
		Timeout:  p.cfg.Timeout,
		Logger:   log,
	}, func(checkCtx context.Context, attempt int) (bool, error) {
		resp, err := get(checkCtx, p.client, p.cfg.URL)
		if err != nil {
			if log.Enabled(checkCtx, slog.LevelDebug) {
				log.Debug("readiness_attempt", "url", p.cfg.URL, "attempt", attempt, "error", err)
			}
			return false, nil
		}
		defer drain(resp)

		if resp.StatusCode == http.StatusOK {
			return true, nil
		}
		if log.Enabled(checkCtx, slog.LevelDebug) {
			log.Debug("readiness_attempt", "url", p.cfg.URL, "attempt", attempt, "status", resp.StatusCode)
		}
		return false, nil
	})
}

// newProbeClient returns a client that opens a fresh connection per attempt,
// so rapid polling against a server that is not listening yet does not pile
// up idle connections.
func newProbeClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
		Timeout:   requestTimeout,
	}
}

func get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return client.Do(req)
}

// drain reads and closes the body so the connection is released.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
