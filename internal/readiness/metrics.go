package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// MetricsConfig configures a Prometheus text endpoint probe.
type MetricsConfig struct {
	HTTPConfig

	// Metric, if set, must be present in the exposition for the service to
	// count as ready. Otherwise any non-empty exposition is enough.
	Metric string
}

type metricsProbe struct {
	cfg    MetricsConfig
	client *http.Client
}

// Metrics returns a probe that is ready once cfg.URL serves a Prometheus
// text exposition that decodes cleanly.
func Metrics(cfg MetricsConfig) Probe {
	cfg.HTTPConfig = cfg.HTTPConfig.withDefaults()
	return &metricsProbe{cfg: cfg, client: newProbeClient()}
}

func (p *metricsProbe) Name() string {
	return "metrics " + p.cfg.URL
}

func (p *metricsProbe) Wait(ctx context.Context, target Target) error {
	defer p.client.CloseIdleConnections()

	log := p.cfg.Logger
	return WaitReady(ctx, target, PollConfig{
		Interval: p.cfg.Interval,
		Timeout:  p.cfg.Timeout,
		Logger:   log,
	}, func(checkCtx context.Context, attempt int) (bool, error) {
		families, err := p.scrape(checkCtx)
		if err != nil {
			if log.Enabled(checkCtx, slog.LevelDebug) {
				log.Debug("readiness_attempt", "url", p.cfg.URL, "attempt", attempt, "error", err)
			}
			return false, nil
		}
		if p.cfg.Metric != "" {
			_, ok := families[p.cfg.Metric]
			return ok, nil
		}
		return len(families) > 0, nil
	})
}

// scrape fetches and decodes the exposition.
func (p *metricsProbe) scrape(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	resp, err := get(ctx, p.client, p.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return DecodeText(resp.Body)
}

// DecodeText parses a Prometheus text exposition into metric families
// keyed by name.
func DecodeText(r io.Reader) (map[string]*dto.MetricFamily, error) {
	decoder := expfmt.NewDecoder(r, expfmt.FmtText)
	families := make(map[string]*dto.MetricFamily)

	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode error: %w", err)
		}
		families[mf.GetName()] = &mf
	}
	return families, nil
}
