package usecase

import (
	"context"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	mid "TradeCore/internal/middleware"
	applogger "TradeCore/pkg/logger"
)

// TickCollector drives the market feed and pushes ticks through the
// pipeline into the decision service.
type TickCollector struct {
	feed    drepo.MarketFeed
	pipe    *mid.TickPipeline
	metrics drepo.Metrics
	l       *applogger.Logger
}

func NewTickCollector(feed drepo.MarketFeed, pipe *mid.TickPipeline, metrics drepo.Metrics, l *applogger.Logger) *TickCollector {
	return &TickCollector{feed: feed, pipe: pipe, metrics: metrics, l: l}
}

// IsConnected reports whether the market feed is connected.
func (c *TickCollector) IsConnected() bool {
	return c.feed.IsConnected()
}

func (c *TickCollector) Start(ctx context.Context) error {
	if err := c.feed.Connect(ctx); err != nil {
		return err
	}
	if err := c.feed.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	tickCh, errCh := c.feed.Read(ctx)
	go c.consume(ctx, tickCh, errCh)
	return nil
}

func (c *TickCollector) consume(ctx context.Context, tickCh <-chan *models.Tick, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				c.metrics.RecordError("feed")
				c.l.Warn("feed error, reconnecting", applogger.Error(err))
				if rerr := c.feed.Reconnect(ctx); rerr != nil {
					c.l.Error("feed reconnect failed", applogger.Error(rerr))
				}
			}
		case t := <-tickCh:
			if t == nil {
				continue
			}
			_ = c.pipe.Process(ctx, t)
		}
	}
}

// Shutdown stops the pipeline and closes the feed.
func (c *TickCollector) Shutdown(ctx context.Context) error {
	c.pipe.Stop()
	return c.feed.Close()
}
