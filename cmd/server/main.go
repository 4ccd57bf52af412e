package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"equipment-booking/config"
	"equipment-booking/internal/api"
	"equipment-booking/internal/broker"
	"equipment-booking/internal/gateway"
	"equipment-booking/internal/redisclient"
	"equipment-booking/internal/service"
	"equipment-booking/internal/store"
	"equipment-booking/internal/util"
	"equipment-booking/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting equipment booking", zap.Strings("services", cfg.Services))

	tp, err := util.InitTracer(cfg.Observ.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	if err := run(cfg, logger); err != nil {
		logger.Error("Exited with error", zap.Error(err))
		return
	}
	logger.Info("Server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	topics := broker.Topics{
		BookingCreated: cfg.Kafka.TopicBookingCreated,
		PaymentStatus:  cfg.Kafka.TopicPaymentStatus,
		BookingStatus:  cfg.Kafka.TopicBookingStatus,
		DeadLetter:     cfg.Kafka.TopicDeadLetter,
	}
	consumerOpts := worker.ProcessorOptions{
		Lanes:          cfg.Consumer.Lanes,
		LaneBuffer:     cfg.Consumer.LaneBuffer,
		MaxAttempts:    cfg.Consumer.MaxAttempts,
		InitialBackoff: cfg.Consumer.InitialBackoff,
		MaxBackoff:     cfg.Consumer.MaxBackoff,
	}
	pool := store.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()
	publisher := broker.NewEventPublisher(producer, topics.DeadLetter)
	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	deps := api.Deps{
		Checks:    map[string]api.ReadinessCheck{},
		RateLimit: rate.Limit(cfg.Server.RateLimit),
		RateBurst: cfg.Server.RateBurst,
	}

	var (
		tasks    []func(context.Context) error
		stoppers []func() error
	)
	consume := func(topic, group string) *broker.Consumer {
		return broker.NewConsumer(cfg.Kafka.Brokers, topic, group)
	}
	defer func() {
		for _, stop := range stoppers {
			if err := stop(); err != nil {
				logger.Warn("Failed to stop worker", zap.Error(err))
			}
		}
	}()

	openStore := func(name, url, schema string) (*store.Store, error) {
		s, err := store.NewStore(url, pool)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s database: %w", name, err)
		}
		if cfg.Database.Migrate {
			if err := s.Migrate(ctx, schema); err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
			}
		}
		deps.Checks[name+"_db"] = s.Ping
		logger.Info("Database connected", zap.String("store", name))
		return s, nil
	}

	var equipmentService *service.EquipmentService
	if cfg.Runs(config.ServiceEquipment) {
		db, err := openStore("equipment", cfg.Database.EquipmentURL, store.SchemaEquipment)
		if err != nil {
			return err
		}
		defer db.Close()

		equipmentService = service.NewEquipmentService(db, topics.BookingStatus)
		deps.Equipment = equipmentService

		w := worker.NewEquipmentWorker(consume(topics.BookingStatus, cfg.Kafka.GroupEquipment),
			equipmentService, publisher, topics, consumerOpts)
		tasks = append(tasks, w.Start)
		stoppers = append(stoppers, w.Stop)
	}

	if cfg.Runs(config.ServiceBooking) {
		db, err := openStore("booking", cfg.Database.BookingURL, store.SchemaBooking)
		if err != nil {
			return err
		}
		defer db.Close()

		var (
			locker service.Locker = service.NewLocalLocker()
			idem   service.IdempotencyStore
		)
		if cfg.Redis.Enabled {
			rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			defer rc.Close()
			locker = redisclient.NewLocker(rc, cfg.Booking.LockTTL, cfg.Booking.LockWait)
			idem = rc
			deps.Checks["redis"] = rc.Ping
			logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
		} else {
			logger.Warn("Redis disabled, equipment locks are process-local")
		}

		var catalog service.EquipmentCatalog
		if equipmentService != nil {
			catalog = equipmentService
		} else {
			catalog = service.NewCatalogClient(cfg.Catalog.URL, cfg.Catalog.Timeout)
		}

		bookingService := service.NewBookingService(db, locker, catalog, idem, service.BookingOptions{
			Currency:       cfg.Payment.Currency,
			PendingTTL:     cfg.Booking.PendingTTL,
			IdempotencyTTL: cfg.Booking.IdempotencyTTL,
			Topics:         topics,
		})
		deps.Bookings = bookingService

		w := worker.NewBookingWorker(consume(topics.PaymentStatus, cfg.Kafka.GroupBooking),
			bookingService, publisher, topics, consumerOpts)
		relay := worker.NewOutboxRelay("booking", db, publisher.PublishOutbox, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
		sweeper := worker.NewExpirySweeper(bookingService, cfg.Booking.SweepInterval)
		tasks = append(tasks, w.Start, relay.Run, sweeper.Run)
		stoppers = append(stoppers, w.Stop)
	}

	if cfg.Runs(config.ServicePayment) {
		db, err := openStore("payment", cfg.Database.PaymentURL, store.SchemaPayment)
		if err != nil {
			return err
		}
		defer db.Close()

		paymentService := service.NewPaymentService(db, gateway.NewRazorpay(cfg.Payment.KeyID, cfg.Payment.KeySecret),
			service.PaymentOptions{
				KeyID:          cfg.Payment.KeyID,
				KeySecret:      cfg.Payment.KeySecret,
				WebhookSecret:  cfg.Payment.WebhookSecret,
				Currency:       cfg.Payment.Currency,
				GatewayTimeout: cfg.Payment.GatewayTimeout,
				CheckoutURL:    cfg.Payment.CheckoutURL,
				Topics:         topics,
			})
		deps.Payments = paymentService

		created := worker.NewPaymentWorker(consume(topics.BookingCreated, cfg.Kafka.GroupPayment),
			paymentService, publisher, topics, consumerOpts)
		cancelled := worker.NewPaymentWorker(consume(topics.BookingStatus, cfg.Kafka.GroupPayment),
			paymentService, publisher, topics, consumerOpts)
		relay := worker.NewOutboxRelay("payment", db, publisher.PublishOutbox, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
		tasks = append(tasks, created.Start, cancelled.Start, relay.Run)
		stoppers = append(stoppers, created.Stop, cancelled.Stop)
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if !cfg.Server.TrustProxy {
		if err := router.SetTrustedProxies(nil); err != nil {
			return err
		}
	}
	api.NewHandler(deps).SetupRoutes(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error { return task(gctx) })
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
