package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-scheduling/internal/api"
	"github.com/clinicore/clinic-scheduling/internal/appointment"
	"github.com/clinicore/clinic-scheduling/internal/config"
	"github.com/clinicore/clinic-scheduling/internal/db"
	"github.com/clinicore/clinic-scheduling/internal/directory"
	"github.com/clinicore/clinic-scheduling/internal/medrecord"
	"github.com/clinicore/clinic-scheduling/internal/notify"
	"github.com/clinicore/clinic-scheduling/internal/queue"
	"github.com/clinicore/clinic-scheduling/internal/redisclient"
	"github.com/clinicore/clinic-scheduling/internal/schedule"
)

var version = "dev"

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load")
	}
	if cfg.Env == "dev" {
		logger = logger.Level(zerolog.DebugLevel)
	}
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	dir := directory.NewClient(cfg.DirectoryBaseURL, cfg.DirectoryTimeout, logger)
	records := medrecord.NewClient(cfg.MedicalRecordBaseURL, cfg.DirectoryTimeout, logger)

	var sender notify.Sender
	if cfg.SMTPAddr != "" {
		sender = notify.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom)
	} else {
		logger.Warn().Msg("SMTP_ADDR not set, notifications go to the log")
		sender = notify.NewLogSender(logger)
	}
	dispatcher := notify.NewDispatcher(dir, sender, logger)
	go dispatcher.Run(rootCtx)

	apptRepo := appointment.NewPgRepository(pgPool)
	schedRepo := schedule.NewPgRepository(pgPool)
	ticketRepo := queue.NewPgRepository(pgPool)

	scheduleSvc := schedule.NewService(schedRepo, apptRepo, dispatcher, schedule.Options{
		RescheduleHorizonDays: cfg.RescheduleHorizonDays,
		SlotSearchDays:        cfg.SlotSearchDays,
	}, logger)
	appointmentSvc := appointment.NewService(apptRepo, dir, scheduleSvc, dispatcher, logger)
	locker := redisclient.NewRedisQueueLocker(rdb, cfg.LockTTL)
	queueSvc := queue.NewService(ticketRepo, appointmentSvc, locker, logger)

	router := api.NewRouter(api.RouterConfig{
		Appointments: appointmentSvc,
		Schedules:    scheduleSvc,
		Queue:        queueSvc,
		Directory:    dir,
		Records:      records,
		PgPool:       pgPool,
		Redis:        rdb,
		Logger:       logger,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
