package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"VeilPerp/internal/config"
	"VeilPerp/internal/custody"
	"VeilPerp/internal/engine"
	"VeilPerp/internal/event"
	"VeilPerp/internal/ingestion"
	"VeilPerp/internal/mpc"
	"VeilPerp/internal/observability"
	"VeilPerp/internal/oracle"
	"VeilPerp/internal/persistence"
	"VeilPerp/internal/state"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: VeilPerp starting...")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: invalid config: %v", err)
	}

	logger := observability.NewLogger("veilperp")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	log.Println("INFO: migrations applied")

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	log.Println("INFO: NATS connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure command streams: %v", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure outbound stream: %v", err)
	}
	if err := oracle.EnsurePriceStream(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure price stream: %v", err)
	}
	if cfg.Cluster.Mode == "remote" {
		if err := mpc.EnsureComputeStreams(ctx, js); err != nil {
			log.Fatalf("FATAL: ensure compute streams: %v", err)
		}
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Oracle feed ---
	feed := oracle.NewCachedFeed(cfg.OracleMaxAge.Std())
	priceSub := oracle.NewPriceSubscriber(js, feed, metrics)
	if err := priceSub.Subscribe(ctx); err != nil {
		log.Fatalf("FATAL: price subscribe: %v", err)
	}

	// --- Persistence worker + outbound publisher ---
	persistWorker := persistence.NewWorker(db, cfg.PersistBatchSize, cfg.PersistFlushTimeout.Std(), metrics)
	publisher := ingestion.NewOutboundPublisher(js, 256, metrics)

	// --- Plaintext state ---
	book := state.NewBook()
	pool := custody.NewPool(cfg.Pool.Name)
	for _, cc := range cfg.Pool.Custodies {
		pool.AddCustody(cc.BuildCustody())
	}

	// --- Orchestrator ---
	eng := engine.NewEngine(engine.Config{
		Book:        book,
		Pool:        pool,
		Feed:        feed,
		Bank:        engine.NewMemoryBank(),
		Audit:       event.MultiLog{persistWorker.Sink(), publisher.Sink()},
		Logger:      logger,
		Metrics:     metrics,
		Permissions: cfg.EnginePermissions(),
	})

	lastSeq, err := persistWorker.Writer().LastSequence(ctx)
	if err != nil {
		log.Fatalf("FATAL: read last audit sequence: %v", err)
	}
	eng.ResumeSequence(lastSeq)
	log.Printf("INFO: audit sequence resumed at %d", lastSeq)

	// --- Compute cluster ---
	key, err := cfg.SealingKey()
	if err != nil {
		log.Fatalf("FATAL: sealing key: %v", err)
	}
	codec, err := mpc.NewCodec(key)
	if err != nil {
		log.Fatalf("FATAL: build codec: %v", err)
	}

	var localCluster *mpc.LocalCluster
	var resultSub *mpc.ResultSubscriber
	switch cfg.Cluster.Mode {
	case "local":
		localCluster = mpc.NewLocalCluster(codec, cfg.Cluster.Workers, eng.Handler(), logger)
		eng.SetCluster(localCluster)
	case "remote":
		eng.SetCluster(mpc.NewRemoteCluster(js))
		resultSub = mpc.NewResultSubscriber(js, eng.Handler())
		if err := resultSub.Subscribe(ctx); err != nil {
			log.Fatalf("FATAL: result subscribe: %v", err)
		}
	}
	log.Printf("INFO: compute cluster attached (mode=%s)", cfg.Cluster.Mode)

	// --- Command ingestion ---
	commandChan := make(chan ingestion.RawCommand, 1024)
	subscriber := ingestion.NewNATSSubscriber(js, commandChan)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatalf("FATAL: command subscribe: %v", err)
	}
	processor := ingestion.NewProcessor(eng, commandChan, logger, metrics)

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	go func() {
		errChan <- persistWorker.Run(ctx)
	}()
	go func() {
		errChan <- publisher.Run(ctx)
	}()
	go func() {
		errChan <- processor.Run(ctx)
	}()
	go func() {
		runPositionSync(ctx, persistWorker.Writer(), book, cfg.PositionSyncPeriod.Std())
	}()
	go func() {
		runCustodyMetrics(ctx, pool, cfg.Pool.Custodies, metrics)
	}()
	go func() {
		errChan <- runMetricsServer(ctx, cfg.MetricsAddr, healthChecker)
	}()

	healthChecker.SetReady(true)
	log.Printf("INFO: VeilPerp ready (pool=%s, cluster=%s, metrics=%s)",
		cfg.Pool.Name, cfg.Cluster.Mode, cfg.MetricsAddr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	healthChecker.SetReady(false)

	// Stop taking new work, let in-flight computations settle, then
	// flush the book one last time.
	subscriber.Stop()
	priceSub.Stop()
	if resultSub != nil {
		resultSub.Stop()
	}

	drainDeadline := time.Now().Add(10 * time.Second)
	for eng.PendingCount() > 0 && time.Now().Before(drainDeadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if n := eng.PendingCount(); n > 0 {
		log.Printf("WARN: %d computations still pending at shutdown", n)
	}

	if localCluster != nil {
		localCluster.Close()
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := persistWorker.Writer().SyncBook(shutdownCtx, book); err != nil {
		log.Printf("ERROR: final position sync failed: %v", err)
	} else {
		log.Println("INFO: final position sync complete")
	}

	log.Println("INFO: VeilPerp shutdown complete")
}

// loadConfig reads VEIL_CONFIG when set, otherwise defaults + env.
func loadConfig() (config.Config, error) {
	if path := os.Getenv("VEIL_CONFIG"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load(), nil
}

// runPositionSync upserts every position record on a timer. A failed
// sync is retried on the next tick; the audit log remains the source of
// truth in between.
func runPositionSync(ctx context.Context, writer *persistence.Writer, book *state.Book, period time.Duration) {
	if period <= 0 {
		period = 10 * time.Second
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.SyncBook(ctx, book); err != nil {
				log.Printf("WARN: position sync failed: %v", err)
			}
		}
	}
}

// runCustodyMetrics exports each custody's balance sheet every 10s.
func runCustodyMetrics(ctx context.Context, pool *custody.Pool, custodies []config.CustodyConfig, metrics *observability.Metrics) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, cc := range custodies {
				c, err := pool.Custody(cc.Name)
				if err != nil {
					continue
				}
				assets := c.Snapshot()
				metrics.SetCustodyMetrics(pool.Name, c.Name,
					assets.Owned, assets.Locked, assets.Collateral,
					assets.ProtocolFees, c.UtilizationBps())
			}
		}
	}
}

// runMetricsServer serves Prometheus metrics and the health probes.
func runMetricsServer(ctx context.Context, addr string, health *observability.HealthChecker) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		server.Shutdown(shutCtx)
	}()

	log.Printf("INFO: metrics server listening on %s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
