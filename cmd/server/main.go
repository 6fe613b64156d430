package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"regjournal/api/grpcserver"
	"regjournal/commands"
	"regjournal/domain/command"
	"regjournal/infra/blob"
	"regjournal/infra/config"
	"regjournal/infra/kafka"
	"regjournal/infra/kv"
	"regjournal/infra/logging"
	"regjournal/infra/metrics"
	"regjournal/infra/sqlstore"
	"regjournal/service"
)

func main() {
	// ---------------- Config ----------------

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- Stores ----------------

	blobs, err := blob.Open(ctx, blob.Config{
		Driver: cfg.BlobDriver,
		FSRoot: cfg.BlobFSRoot,
		S3: blob.S3Config{
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
			PathStyle:       cfg.S3PathStyle,
		},
	})
	if err != nil {
		log.Fatalf("blob store init failed: %v", err)
	}

	meta, err := kv.Open(cfg.MetadataDir)
	if err != nil {
		log.Fatalf("metadata store init failed: %v", err)
	}
	defer meta.Close()

	db, err := sqlstore.Open(ctx, cfg.SQLDriver, cfg.SQLDSN)
	if err != nil {
		log.Fatalf("registration db init failed: %v", err)
	}
	defer db.Close()

	// ---------------- Events ----------------

	events, err := kafka.New(kafka.Config{
		Client:       cfg.KafkaClient,
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaTopic,
		Acks:         cfg.KafkaAcks,
		BatchTimeout: cfg.KafkaBatch,
	})
	if err != nil {
		log.Fatalf("kafka init failed: %v", err)
	}
	defer events.Close()

	// ---------------- Commands ----------------

	deps := commands.Deps{Blobs: blobs, Metadata: meta, DataSets: db, Events: events}
	registry := command.NewRegistry()
	if err := commands.Register(registry, deps); err != nil {
		log.Fatalf("command registry: %v", err)
	}

	// ---------------- Metrics ----------------

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	journalMetrics := metrics.NewJournal(promReg)

	// ---------------- Journals ----------------

	if err := os.MkdirAll(cfg.StagingDir, 0o755); err != nil {
		log.Fatalf("staging dir: %v", err)
	}
	mgr, err := service.NewManager(cfg.JournalDir, registry,
		service.WithLogger(logger),
		service.WithObserver(journalMetrics),
		service.WithRollbackGuard(service.StagingGuard(cfg.StagingDir, cfg.StagingAttempts, cfg.StagingInterval, logger)),
	)
	if err != nil {
		log.Fatalf("journal manager init failed: %v", err)
	}
	defer mgr.Close()

	// ---------------- DEAD JOURNAL RECOVERY ----------------

	report, err := mgr.RecoverDead(ctx)
	if err != nil {
		log.Fatalf("dead journal recovery failed: %v", err)
	}
	if len(report.Parked)+len(report.Failed) > 0 {
		logger.Warn("journals need operator attention", "parked", report.Parked, "failed", report.Failed)
	}

	// ---------------- Background Jobs ----------------

	mgr.StartSweepJob(ctx, time.Minute)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server exited", "err", err)
		}
	}()

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen failed: %v", err)
	}

	grpcSrv := grpc.NewServer()
	pipeline := service.NewPipeline(mgr, deps, cfg.StoreDir, logger)
	grpcserver.RegisterAdminServer(grpcSrv, grpcserver.NewServer(mgr, pipeline, logger))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		healthSrv.Shutdown()
		grpcSrv.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("regjournal running", "grpc", cfg.GRPCAddr, "metrics", cfg.MetricsAddr, "journal_dir", cfg.JournalDir)

	if err := grpcSrv.Serve(lis); err != nil {
		log.Fatalf("gRPC server exited: %v", err)
	}
}
