package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	domrepo "TradeCore/internal/domain/repository"
	domsvc "TradeCore/internal/domain/service"
	"TradeCore/internal/engine/consensus"
	"TradeCore/internal/engine/exits"
	"TradeCore/internal/engine/regime"
	"TradeCore/internal/engine/sizing"
	"TradeCore/internal/handler/api"
	mid "TradeCore/internal/middleware"
	internalrepo "TradeCore/internal/repository"
	svcCache "TradeCore/internal/service/cache"
	"TradeCore/internal/service/feed"
	"TradeCore/internal/service/ratelimit"
	"TradeCore/internal/service/risk"
	"TradeCore/internal/usecase"
	pkgcache "TradeCore/pkg/cache"
	pkgch "TradeCore/pkg/clickhouse"
	"TradeCore/pkg/config"
	xhttp "TradeCore/pkg/http"
	pkgkafka "TradeCore/pkg/kafka"
	applogger "TradeCore/pkg/logger"
	"TradeCore/pkg/metrics"
	"TradeCore/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: "stdout",
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideClassifier creates the regime classifier.
func ProvideClassifier(cfg *config.Config, l *applogger.Logger, m domrepo.Metrics) *regime.Classifier {
	rc := regime.DefaultConfig()
	if cfg.Engine.Regime.WindowSize > 0 {
		rc.WindowSize = cfg.Engine.Regime.WindowSize
	}
	if cfg.Engine.Regime.MinSamples > 0 {
		rc.MinSamples = cfg.Engine.Regime.MinSamples
	}
	return regime.NewClassifier(rc, l, m)
}

// ProvideConsensusEngine creates the weighted voting engine.
func ProvideConsensusEngine(cfg *config.Config, l *applogger.Logger, m domrepo.Metrics) *consensus.Engine {
	cc := consensus.DefaultConfig()
	if cfg.Engine.Consensus.HistorySize > 0 {
		cc.HistorySize = cfg.Engine.Consensus.HistorySize
	}
	return consensus.NewEngine(cc, l, m)
}

// ProvideTTLCache creates the in-process cache shared by the risk client and
// the HTTP snapshot layer.
func ProvideTTLCache() *svcCache.TTLCache {
	return svcCache.NewTTLCache()
}

// ProvideRiskClient creates the external risk service client.
func ProvideRiskClient(cfg *config.Config, ttl *svcCache.TTLCache, l *applogger.Logger, m domrepo.Metrics) *risk.Client {
	return risk.NewClient(cfg.Risk.ServiceURL, cfg.Risk.Timeout, cfg.Risk.CacheTTL, ttl, l, m)
}

// ProvideRiskSource exposes the risk client as a risk-metrics source.
func ProvideRiskSource(c *risk.Client) domsvc.RiskSource { return c }

// ProvideCorrelationSource exposes the risk client as a correlation source.
func ProvideCorrelationSource(c *risk.Client) domsvc.CorrelationSource { return c }

// ProvideSizer creates the position sizer.
func ProvideSizer(cfg *config.Config, corr domsvc.CorrelationSource, l *applogger.Logger, m domrepo.Metrics) *sizing.Sizer {
	sc := sizing.DefaultConfig()
	if v := cfg.Engine.Sizing.MaxPortfolioRisk; v > 0 {
		sc.MaxPortfolioRisk = v
	}
	if v := cfg.Engine.Sizing.MinPositionSize; v > 0 {
		sc.MinPositionSize = v
	}
	if v := cfg.Engine.Sizing.MaxKellyFraction; v > 0 {
		sc.MaxKellyFraction = v
	}
	if v := cfg.Engine.Sizing.KellyConservatism; v > 0 {
		sc.KellyConservatism = v
	}
	if v := cfg.Engine.Sizing.TargetVolatility; v > 0 {
		sc.TargetVolatility = v
	}
	if v := cfg.Engine.Sizing.HistorySize; v > 0 {
		sc.HistorySize = v
	}
	return sizing.NewSizer(sc, corr, l, m)
}

// ProvidePlanner creates the exit planner.
func ProvidePlanner(cfg *config.Config, l *applogger.Logger, m domrepo.Metrics) *exits.Planner {
	ec := exits.DefaultConfig()
	if v := cfg.Engine.Exits.EmergencyStopPct; v > 0 {
		ec.EmergencyStopPct = v
	}
	if v := cfg.Engine.Exits.TrailingDistance; v > 0 {
		ec.TrailingDistance = v
	}
	ec.LevelTimeLimit = cfg.Engine.Exits.LevelTimeLimit
	ec.MaxHoldingTime = cfg.Engine.Exits.MaxHoldingTime
	return exits.NewPlanner(ec, l, m)
}

// ProvideKafkaProducer creates the Kafka producer for decision publishing.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideDecisionPublisher creates the Kafka-backed decision publisher.
func ProvideDecisionPublisher(producer *pkgkafka.Producer, cfg *config.Config, l *applogger.Logger) domrepo.DecisionPublisher {
	return internalrepo.NewKafkaDecisionPublisher(producer, cfg.Kafka.DecisionsTopic, l)
}

// ProvideDecisionStore creates the ClickHouse archive, or nil when disabled.
func ProvideDecisionStore(cfg *config.Config, l *applogger.Logger) (domrepo.DecisionStore, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.Schema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return internalrepo.NewCHDecisionStore(client, l), nil
}

// ProvideLocker creates the distributed lock backend, or nil when Redis is
// disabled.
func ProvideLocker(cfg *config.Config) (usecase.Locker, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	host, portStr, err := net.SplitHostPort(cfg.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("redis addr %q: %w", cfg.Redis.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("redis port %q: %w", portStr, err)
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(host),
		pkgcache.WithRedisPort(port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideSnapshotCache picks the HTTP snapshot cache backend: Redis when
// enabled, otherwise the in-process TTL cache.
func ProvideSnapshotCache(cfg *config.Config, ttl *svcCache.TTLCache) svcCache.BytesCache {
	if cfg.Redis.Enabled {
		return svcCache.NewRedisCache(svcCache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	return ttl
}

// ProvideMarketFeed creates the WebSocket market data feed.
func ProvideMarketFeed(cfg *config.Config, l *applogger.Logger) domrepo.MarketFeed {
	return feed.New(
		cfg.Feed.APIKey,
		cfg.Feed.WebSocketURL,
		cfg.Feed.Instruments,
		cfg.Feed.ReconnectDelay,
		cfg.Feed.PingInterval,
		l,
	)
}

// ProvideDecisionService assembles the decision core.
func ProvideDecisionService(
	classifier *regime.Classifier,
	engine *consensus.Engine,
	sizer *sizing.Sizer,
	planner *exits.Planner,
	riskSrc domsvc.RiskSource,
	publisher domrepo.DecisionPublisher,
	store domrepo.DecisionStore,
	m domrepo.Metrics,
	locker usecase.Locker,
	l *applogger.Logger,
) *usecase.DecisionService {
	return usecase.NewDecisionService(classifier, engine, sizer, planner, riskSrc, publisher, store, m, locker, l)
}

// ProvideTickCollector builds the feed-to-engine pipeline.
func ProvideTickCollector(
	mf domrepo.MarketFeed,
	svc *usecase.DecisionService,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.TickCollector {
	pipe := mid.NewTickPipeline(svc, m,
		mid.WithMaxRPS(50),
		mid.WithBufferSize(2000),
	)
	return usecase.NewTickCollector(mf, pipe, m, l)
}

// ProvideKafkaConsumer creates the outcomes consumer, or nil when no topic
// is configured.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if cfg.Kafka.Outcomes.Topic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Outcomes.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Outcomes.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Outcomes.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Outcomes.RetryMax, cfg.Kafka.Outcomes.BackoffMin, cfg.Kafka.Outcomes.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Outcomes.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Outcomes.MinBytes, cfg.Kafka.Outcomes.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideOutcomesHandler registers the handler for the outcomes topic.
func ProvideOutcomesHandler(cfg *config.Config, svc *usecase.DecisionService, m domrepo.Metrics) *usecase.OutcomesHandler {
	return usecase.NewOutcomesHandler(cfg.Kafka.Outcomes.Topic, svc, m)
}

// ProvideRateLimiter creates the per-agent signal rate limiter, or nil when
// disabled.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New()
}

// ProvideHTTPHandler builds the API handler.
func ProvideHTTPHandler(
	cfg *config.Config,
	l *applogger.Logger,
	svc *usecase.DecisionService,
	classifier *regime.Classifier,
	engine *consensus.Engine,
	sizer *sizing.Sizer,
	planner *exits.Planner,
	limiter *ratelimit.Limiter,
	snap svcCache.BytesCache,
) xhttp.Handler {
	rateCap := float64(cfg.RateLimit.Rate)
	refill := 0.0
	if cfg.RateLimit.Interval > 0 {
		refill = rateCap / cfg.RateLimit.Interval.Seconds()
	}
	return api.NewDecisionsHandler(l, svc, classifier, engine, sizer, planner, limiter, rateCap, refill, snap)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	collector *usecase.TickCollector,
	consumer *pkgkafka.Consumer,
	oh *usecase.OutcomesHandler,
	store domrepo.DecisionStore,
	producer *pkgkafka.Producer,
	handler xhttp.Handler,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	return server.New(cfg, l, collector, consumer, oh, store, producer, handler)
}
