package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"gatepass/internal/directory"
	"gatepass/internal/notify"
	"gatepass/internal/platform/config"
	"gatepass/internal/platform/httpserver"
	"gatepass/internal/platform/jwt"
	"gatepass/internal/platform/kafka"
	"gatepass/internal/platform/logger"
	"gatepass/internal/platform/metrics"
	platformredis "gatepass/internal/platform/redis"
	"gatepass/internal/qr"
	visithandler "gatepass/internal/visit/handler"
	"gatepass/internal/visit/models"
	"gatepass/internal/visit/service"
	scanstore "gatepass/internal/visit/store/scan"
	visitstore "gatepass/internal/visit/store/visit"
)

// main wires stores, services and background workers, then runs the HTTP
// server until SIGINT/SIGTERM. Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	crypto, err := qr.NewCryptoContext(cfg.QR.EncryptionKey, cfg.QR.HMACSecret)
	if err != nil {
		log.Error("invalid QR key material", "error", err)
		os.Exit(1)
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Error("invalid facility timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	defaultAction, err := scanDefaultAction(cfg.Scan.DefaultAction)
	if err != nil {
		log.Error("invalid scan default action", "action", cfg.Scan.DefaultAction, "error", err)
		os.Exit(1)
	}

	var (
		visits service.VisitStore
		scans  service.ScanStore
		dir    service.Directory
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("database unreachable", "error", err)
			os.Exit(1)
		}
		visits = visitstore.NewPostgres(db)
		scans = scanstore.NewPostgres(db)
		dir = directory.NewPostgres(db)
		log.Info("using postgres stores")
	} else {
		visits = visitstore.NewInMemory()
		scans = scanstore.NewInMemory()
		dir = directory.NewInMemory()
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	sinks := []notify.Sink{notify.NewLogSink(log)}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			log.Error("failed to connect to kafka", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, cfg.Kafka.Topic); err != nil {
			log.Error("failed to ensure kafka topic", "topic", cfg.Kafka.Topic, "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, notify.NewKafkaSink(producer, cfg.Kafka.Topic))
		log.Info("kafka sink enabled", "topic", cfg.Kafka.Topic)
	}
	worker := notify.NewWorker(cfg.NotifyBuffer, sinks,
		notify.WithLogger(log),
		notify.WithMetrics(m),
		notify.WithTimeout(cfg.NotifyTimeout),
	)

	svc := service.New(visits, scans, dir, qr.NewCodec(crypto),
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithNotifier(worker),
		service.WithLocation(location),
		service.WithValidityWindow(cfg.QR.ValidityWindow),
		service.WithDefaultAction(defaultAction),
	)

	sweeperOpts := []service.SweeperOption{
		service.SweeperWithNotifier(worker),
		service.SweeperWithLogger(log),
		service.SweeperWithMetrics(m),
		service.SweeperWithLocation(location),
	}
	if cfg.Redis.URL != "" {
		redisClient, err := platformredis.New(cfg.Redis)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		sweeperOpts = append(sweeperOpts, service.SweeperWithLocker(redisClient))
		log.Info("sweep leader election enabled")
	}
	sweeper := service.NewSweeper(visits, cfg.Sweep.Interval, cfg.Sweep.LockTTL, sweeperOpts...)

	jwtService := jwt.NewService(cfg.JWTSigningKey, "gatepass", "gatepass-api")
	handler := visithandler.New(svc, log, m, jwtService, location)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	handler.Register(router)

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return worker.Run(groupCtx)
	})
	group.Go(func() error {
		return sweeper.Run(groupCtx)
	})
	group.Go(func() error {
		log.Info("starting gatepass", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func scanDefaultAction(raw string) (models.ScanAction, error) {
	return models.ParseScanAction(raw, models.ActionApprove)
}
