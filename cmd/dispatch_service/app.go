package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"ride-dispatch/internal/dispatch"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/notify"
	"ride-dispatch/internal/general/postgres"
	"ride-dispatch/internal/general/rabbitmq"
	"ride-dispatch/internal/general/redisstore"
	"ride-dispatch/internal/general/websocket"
	"ride-dispatch/internal/matching"
	"ride-dispatch/internal/pricing"
	"ride-dispatch/internal/registry"
	"ride-dispatch/internal/software/dispatcher/service"
	opshandler "ride-dispatch/internal/software/opsboard/handler"
	opsservice "ride-dispatch/internal/software/opsboard/service"
	"ride-dispatch/internal/tracking"
)

// run wires the dispatch service and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	// startup logs carry a static request ID
	log := logger.New("dispatch-service")
	ctx = logger.WithRequestID(ctx, "startup-001")

	// load a config from file
	cfg, err := config.LoadFromFile("config/config.yaml")
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load configuration", err, nil)
		return err
	}

	// set up a Postgres connection pool
	pool, err := postgres.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
		return err
	}
	defer pool.Close()

	// connect to Redis for the driver registry
	rdb, err := redisstore.Connect(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "redis_connection_failed", "Failed to connect to Redis", err, nil)
		return err
	}
	defer rdb.Close()

	// connect to RabbitMQ
	rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
		return err
	}
	defer rmq.Close()

	// set up the JWT manager for websocket auth
	jwtManager := jwt.NewManager(cfg.JWT.SecretKey, 2*time.Hour)

	// set up the repos
	uow := postgres.NewUnitOfWork(pool)
	rideRepo := postgres.NewRideRepo(pool)
	zoneRepo := postgres.NewZoneRepo(pool)
	demandRepo := postgres.NewDemandRepo(pool)
	locationRepo := postgres.NewLocationHistoryRepo(pool)

	// set up the driver registry
	reg := registry.NewRedisRegistry(rdb, 90*time.Second)

	// core services; routing is an external collaborator and may be absent,
	// in which case pricing falls back to haversine estimates
	notifier := notify.New(nil, rmq, log)
	matcher := matching.NewService(reg, locationRepo, log)
	pricer := pricing.NewService(zoneRepo, zoneRepo, demandRepo, pricing.NoRouter{}, log, cfg.Pricing)
	disp := dispatch.NewService(reg, rideRepo, notifier, log, cfg.Dispatch)
	tracker := tracking.NewManager(reg, rideRepo, notifier, locationRepo, log, cfg.Tracking)

	// realtime layer; the hub needs the core services and the notifier needs
	// the hub, so the push side is bound after construction
	hub := websocket.NewHub(log, jwtManager, reg, disp, tracker, tracker)
	notifier.SetPusher(hub)

	// orchestrator: MQ consumers for requests, responses and lifecycle
	dispatcher := service.NewDispatcherService(log, cfg, uow, rideRepo, rideRepo, reg, matcher, disp, pricer, tracker, rmq)
	dispatcher.Start(ctx)

	// ops dashboard over the live core state
	opsSvc := opsservice.NewOpsService(reg, disp, tracker)
	opsHandler := opshandler.NewOpsHTTPHandler(opsSvc, log, jwtManager)

	// websocket + ops endpoints
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/drivers/{driver_id}", hub.ConnectDriver)
	mux.HandleFunc("GET /ws/passengers/{passenger_id}", hub.ConnectPassenger)
	opsHandler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Services.DispatchServicePort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Info(ctx, "service_started",
		fmt.Sprintf("Dispatch Service started on port %d", cfg.Services.DispatchServicePort),
		map[string]any{"port": cfg.Services.DispatchServicePort},
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info(ctx, "shutdown_started", "Dispatch Service shutting down", nil)
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}
	case err := <-errCh:
		if err != nil {
			log.Error(ctx, "http_server_error", "HTTP server terminated with error", err,
				map[string]any{"port": cfg.Services.DispatchServicePort})
			return err
		}
	}

	return nil
}
