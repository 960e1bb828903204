package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"FinPilot/internal/domain/models"
	domrepo "FinPilot/internal/domain/repository"
	"FinPilot/internal/domain/service"
	pkghttp "FinPilot/pkg/http"
	"FinPilot/pkg/logger"
)

// Checker probes one data source.
type Checker interface {
	Check(ctx context.Context) models.SourceHealth
}

// Source is a named checker in the registry.
type Source struct {
	Name    string
	Checker Checker
}

// Probe checks every registered source concurrently.
type Probe struct {
	sources []Source
	metrics domrepo.Metrics
	log     *logger.Logger
}

var _ service.HealthProbe = (*Probe)(nil)

func NewProbe(sources []Source, metrics domrepo.Metrics, log *logger.Logger) *Probe {
	if log == nil {
		log = logger.Nop()
	}
	return &Probe{sources: sources, metrics: metrics, log: log}
}

// Sources returns the registered source names in registry order.
func (p *Probe) Sources() []string {
	names := make([]string, len(p.sources))
	for i, s := range p.sources {
		names[i] = s.Name
	}
	return names
}

// CheckAll returns one result per source, in registry order.
func (p *Probe) CheckAll(ctx context.Context) []models.SourceHealth {
	results := make([]models.SourceHealth, len(p.sources))
	g, gCtx := errgroup.WithContext(ctx)
	for i, src := range p.sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = p.checkOne(gCtx, src)
			return nil
		})
	}
	_ = g.Wait()

	down := 0
	for _, r := range results {
		if r.Status == models.HealthDown {
			down++
		}
		if p.metrics != nil {
			p.metrics.RecordSourceHealth(r.Name, r.Status)
		}
	}
	p.log.Debug("Source health checked",
		logger.Int("sources", len(results)),
		logger.Int("down", down))
	return results
}

func (p *Probe) checkOne(ctx context.Context, src Source) (res models.SourceHealth) {
	defer func() {
		if r := recover(); r != nil {
			res = models.SourceHealth{Name: src.Name, Status: models.HealthDown, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	res = src.Checker.Check(ctx)
	res.Name = src.Name
	return res
}

// Tally counts healthy, degraded and down results.
func Tally(results []models.SourceHealth) (healthy, degraded, down int) {
	for _, r := range results {
		switch r.Status {
		case models.HealthHealthy:
			healthy++
		case models.HealthDegraded:
			degraded++
		default:
			down++
		}
	}
	return healthy, degraded, down
}

// HTTPChecker issues a GET against a source endpoint.
type HTTPChecker struct {
	client   *pkghttp.Client
	url      string
	degraded time.Duration
	now      func() time.Time
}

// NewHTTPChecker builds a checker. Responses slower than degradedAfter are
// reported as degraded; zero disables the latency rule.
func NewHTTPChecker(client *pkghttp.Client, url string, degradedAfter time.Duration) *HTTPChecker {
	if client == nil {
		client = pkghttp.NewClient(pkghttp.WithTimeout(10 * time.Second))
	}
	return &HTTPChecker{client: client, url: url, degraded: degradedAfter, now: time.Now}
}

func (c *HTTPChecker) Check(ctx context.Context) models.SourceHealth {
	start := c.now()
	resp, err := c.client.SendRequest(ctx, &pkghttp.RequestOptions{Method: pkghttp.MethodGet, URL: c.url})
	latency := c.now().Sub(start)
	res := models.SourceHealth{LatencyMs: latency.Milliseconds()}
	if err != nil {
		res.Status = models.HealthDown
		res.Error = err.Error()
		return res
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		res.Status = models.HealthDown
		res.Error = fmt.Sprintf("status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		res.Status = models.HealthDegraded
		res.Error = fmt.Sprintf("status %d", resp.StatusCode)
	case c.degraded > 0 && latency > c.degraded:
		res.Status = models.HealthDegraded
		res.Error = fmt.Sprintf("slow response: %dms", res.LatencyMs)
	default:
		res.Status = models.HealthHealthy
	}
	return res
}

// CheckerFunc adapts a function to Checker. An error reports the source down.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) models.SourceHealth {
	start := time.Now()
	err := f(ctx)
	res := models.SourceHealth{Status: models.HealthHealthy, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = models.HealthDown
		res.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			res.Error = "timeout"
		}
	}
	return res
}
