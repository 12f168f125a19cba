package risk

import (
	"context"
	"fmt"
	"time"

	"TradeCore/internal/domain/models"
	domrepo "TradeCore/internal/domain/repository"
	xhttp "TradeCore/pkg/http"
	applogger "TradeCore/pkg/logger"
)

const (
	defaultTimeout = 3 * time.Second
	retryAttempts  = 2
	cacheKeyPrefix = "corr:"
)

// Client queries the external risk service for portfolio risk snapshots
// and correlation scores. Correlation lookups degrade to a tagged
// fallback value instead of erroring, so the sizing hot path always
// gets a usable answer.
type Client struct {
	baseURL  string
	http     *xhttp.Client
	l        *applogger.Logger
	metrics  domrepo.Metrics
	cacheTTL time.Duration

	cache cacheStore
}

// cacheStore is the subset of the TTL cache the client needs.
type cacheStore interface {
	Get(key string) (any, bool)
	Set(key string, v any, ttl time.Duration)
}

// NewClient builds a risk service client. cache may be nil to disable
// correlation caching.
func NewClient(baseURL string, timeout, cacheTTL time.Duration, cache cacheStore, l *applogger.Logger, metrics domrepo.Metrics) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:  baseURL,
		http:     xhttp.NewClient(xhttp.WithTimeout(timeout)),
		l:        l,
		metrics:  metrics,
		cacheTTL: cacheTTL,
		cache:    cache,
	}
}

type riskMetricsResponse struct {
	PortfolioValue  float64 `json:"portfolio_value"`
	CurrentDrawdown float64 `json:"current_drawdown"`
	Volatility24h   float64 `json:"volatility_24h"`
	SharpeRatio     float64 `json:"sharpe_ratio"`
	DrawdownLimit   float64 `json:"drawdown_limit"`
	DailyPnL        float64 `json:"daily_pnl"`
	RecentWinRate   float64 `json:"recent_win_rate"`
	AvgWinLossRatio float64 `json:"avg_win_loss_ratio"`
}

// Metrics fetches the live portfolio risk snapshot.
func (c *Client) Metrics(ctx context.Context, instrument string) (models.RiskMetrics, error) {
	if c.baseURL == "" {
		return models.RiskMetrics{}, fmt.Errorf("risk service not configured")
	}

	var resp riskMetricsResponse
	err := c.postJSON(ctx, "/risk/metrics", map[string]string{"instrument": instrument}, &resp)
	if err != nil {
		return models.RiskMetrics{}, fmt.Errorf("risk metrics %s: %w", instrument, err)
	}
	return models.RiskMetrics{
		PortfolioValue:  resp.PortfolioValue,
		CurrentDrawdown: resp.CurrentDrawdown,
		Volatility24h:   resp.Volatility24h,
		SharpeRatio:     resp.SharpeRatio,
		DrawdownLimit:   resp.DrawdownLimit,
		DailyPnL:        resp.DailyPnL,
		RecentWinRate:   resp.RecentWinRate,
		AvgWinLossRatio: resp.AvgWinLossRatio,
	}, nil
}

type correlationRequest struct {
	Instrument    string             `json:"instrument"`
	OpenPositions map[string]float64 `json:"open_positions"`
}

type correlationResponse struct {
	Score         float64 `json:"score"`
	ExposureLimit float64 `json:"exposure_limit"`
}

// CorrelationRisk fetches the correlation score for an instrument
// against the open portfolio. Unavailability of the service is
// expressed as a fallback-tagged value, never an error.
func (c *Client) CorrelationRisk(ctx context.Context, instrument string, openPositions map[string]float64) models.CorrelationRisk {
	if c.baseURL == "" {
		return models.CorrelationRisk{
			Source:         models.CorrelationFallback,
			FallbackReason: "risk service not configured",
		}
	}

	key := cacheKeyPrefix + instrument
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			if cr, ok := v.(models.CorrelationRisk); ok {
				return cr
			}
		}
	}

	var resp correlationResponse
	err := c.postJSON(ctx, "/risk/correlation", correlationRequest{
		Instrument:    instrument,
		OpenPositions: openPositions,
	}, &resp)
	if err != nil {
		c.l.Warn("correlation service unavailable",
			applogger.String("instrument", instrument),
			applogger.Error(err),
		)
		if c.metrics != nil {
			c.metrics.RecordError("correlation_service")
		}
		return models.CorrelationRisk{
			Source:         models.CorrelationFallback,
			FallbackReason: err.Error(),
		}
	}

	cr := models.CorrelationRisk{
		Score:         resp.Score,
		ExposureLimit: resp.ExposureLimit,
		Source:        models.CorrelationLive,
	}
	if c.cache != nil && c.cacheTTL > 0 {
		c.cache.Set(key, cr, c.cacheTTL)
	}
	return cr
}

// postJSON posts the payload with bounded retries for transient errors.
func (c *Client) postJSON(ctx context.Context, path string, payload, dest interface{}) error {
	var err error
	for i := 1; i <= retryAttempts; i++ {
		err = c.http.SendAndParse(ctx, &xhttp.RequestOptions{
			Method:  xhttp.MethodPost,
			URL:     c.baseURL + path,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    payload,
		}, dest)
		if err == nil {
			return nil
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
