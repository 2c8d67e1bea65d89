package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"claimgate/internal/audit"
	auditpg "claimgate/internal/audit/store/postgres"
	"claimgate/internal/decision"
	"claimgate/internal/history"
	jwttoken "claimgate/internal/jwt_token"
	"claimgate/internal/orchestrator"
	"claimgate/internal/pipeline"
	"claimgate/internal/platform/config"
	"claimgate/internal/platform/httpserver"
	"claimgate/internal/platform/kafka"
	"claimgate/internal/platform/logger"
	"claimgate/internal/platform/metrics"
	"claimgate/internal/platform/middleware"
	"claimgate/internal/platform/postgres"
	platformredis "claimgate/internal/platform/redis"
	"claimgate/internal/report"
	"claimgate/internal/review"
	"claimgate/internal/risk"
	"claimgate/internal/rules"
	"claimgate/pkg/platform/circuit"
)

// main wires dependencies and runs the two long-lived loops: the Kafka
// consumer that vets claims and the HTTP server that answers reviewers.
// Business logic lives in the internal packages.
func main() {
	log := logger.New()
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("claimgate exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	m := metrics.New()

	db, err := postgres.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	var deduper pipeline.Deduper
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		deduper = pipeline.NewRedisDeduper(redisClient.Client, cfg.Pipeline.DedupeTTL)
	} else {
		log.Warn("redis not configured, idempotency is per-process only")
		deduper = pipeline.NewMemoryDeduper()
	}

	if err := kafka.EnsureTopics(ctx, cfg.Kafka.Brokers, int32(cfg.Kafka.Partitions),
		cfg.Kafka.SubmittedTopic, cfg.Kafka.AnalyzedTopic); err != nil {
		return err
	}

	ledger, err := audit.NewLedger(ctx, auditpg.New(db), audit.WithLogger(log))
	if err != nil {
		return err
	}
	reports := report.NewPostgres(db)

	ruleset, err := rules.LoadFile(cfg.Rules.Path, 0)
	if err != nil {
		return err
	}
	log.Info("ruleset activated",
		"version", ruleset.Version(),
		"checksum", ruleset.Checksum(),
		"rules", ruleset.Len(),
	)

	onBreakerChange := func(name string, change circuit.StateChange) {
		m.BreakerState.WithLabelValues(name).Set(float64(change.To))
		log.Warn("circuit breaker transition",
			"dependency", name,
			"from", change.From.String(),
			"to", change.To.String(),
		)
	}
	breakerOpts := []circuit.Option{
		circuit.WithFailureThreshold(cfg.Breakers.FailureThreshold),
		circuit.WithCooldown(cfg.Breakers.Cooldown),
		circuit.WithStateChange(onBreakerChange),
	}
	dataBreaker := circuit.New("claims-data", breakerOpts...)
	riskBreaker := circuit.New("risk-scorer", breakerOpts...)

	signer, err := pipeline.NewSigner([]byte(cfg.Pipeline.SigningKey))
	if err != nil {
		return err
	}

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		return err
	}
	defer producer.Close()
	publisher := pipeline.NewPublisher(producer, signer, cfg.Kafka.AnalyzedTopic,
		pipeline.WithPublisherLogger(log),
		pipeline.WithPublisherMetrics(m),
		pipeline.WithPublisherBreaker(circuit.New("kafka-producer", breakerOpts...)),
	)

	svc := orchestrator.NewService(orchestrator.Deps{
		Ledger:     ledger,
		History:    history.NewClient(cfg.Clients.DataServiceURL, cfg.Clients.RequestTimeout),
		Scorer:     risk.NewClient(cfg.Clients.RiskScorerURL, cfg.Clients.RequestTimeout),
		RuleEngine: rules.NewEngine(rules.WithLogger(log)),
		Ruleset:    ruleset,
		Decider: decision.NewEngine(decision.Config{
			MinConfidence:       cfg.Decision.MinConfidence,
			HighRiskThreshold:   cfg.Decision.HighRiskThreshold,
			MediumRiskThreshold: cfg.Decision.MediumRiskFloor,
			AmountCeiling:       cfg.Decision.HighValueCeiling,
			AutoApproveEnabled:  cfg.Decision.AutoApproveEnabled,
		}),
		Reports:     reports,
		Publisher:   publisher,
		DataBreaker: dataBreaker,
		RiskBreaker: riskBreaker,
	},
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(m),
		orchestrator.WithTimeout(cfg.Pipeline.ProcessTimeout),
	)

	eventHandler := pipeline.NewHandler(signer, deduper, svc,
		pipeline.WithHandlerLogger(log),
		pipeline.WithHandlerMetrics(m),
	)
	consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup,
		[]string{cfg.Kafka.SubmittedTopic}, log)
	if err != nil {
		return err
	}
	defer consumer.Close()

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
	authenticator := review.NewAuthenticator(review.NewPostgresAccounts(db), jwtService, cfg.Auth.TokenTTL)
	reviewHandler := review.NewHandler(
		authenticator,
		jwttoken.NewJWTServiceAdapter(jwtService),
		reports,
		ledger,
		review.WithLogger(log),
		review.WithRateLimit(middleware.NewSlidingWindowLimiter(cfg.Server.RateLimit, cfg.Server.RateLimitWindow)),
	)

	router := chi.NewRouter()
	router.Use(
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.Timeout(cfg.Server.RequestTimeout),
		middleware.RateLimit(middleware.NewSlidingWindowLimiter(cfg.Server.RateLimit, cfg.Server.RateLimitWindow)),
	)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	reviewHandler.Register(router)

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("consumer starting",
			"brokers", cfg.Kafka.Brokers,
			"group", cfg.Kafka.ConsumerGroup,
			"topic", cfg.Kafka.SubmittedTopic,
		)
		return consumer.Run(gctx, eventHandler.Handle)
	})
	g.Go(func() error {
		log.Info("http server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
