package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-scheduling/internal/appointment"
	"github.com/clinicore/clinic-scheduling/internal/config"
	"github.com/clinicore/clinic-scheduling/internal/db"
	"github.com/clinicore/clinic-scheduling/internal/directory"
	"github.com/clinicore/clinic-scheduling/internal/notify"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "reminder-worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load")
	}
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.ReminderInterval).
		Dur("lead_time", cfg.ReminderLeadTime).
		Msg("starting up")

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

	dir := directory.NewClient(cfg.DirectoryBaseURL, cfg.DirectoryTimeout, logger)

	var sender notify.Sender
	if cfg.SMTPAddr != "" {
		sender = notify.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom)
	} else {
		logger.Warn().Msg("SMTP_ADDR not set, reminders go to the log")
		sender = notify.NewLogSender(logger)
	}
	dispatcher := notify.NewDispatcher(dir, sender, logger)
	go dispatcher.Run(rootCtx)

	repo := appointment.NewPgRepository(pgPool)

	runOnce(rootCtx, repo, dispatcher, cfg, logger)

	ticker := time.NewTicker(cfg.ReminderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, repo, dispatcher, cfg, logger)
		}
	}
}

// runOnce reminds about active appointments whose start falls inside the lead
// window covered by this tick. The window spans exactly one interval so each
// appointment is picked up by a single run.
func runOnce(ctx context.Context, repo *appointment.PgRepository, dispatcher *notify.Dispatcher, cfg config.Config, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	center := start.UTC().Add(cfg.ReminderLeadTime)
	from := center.Add(-cfg.ReminderInterval / 2)
	to := center.Add(cfg.ReminderInterval / 2)

	due, err := repo.ListStartingBetween(runCtx, from, to)
	if err != nil {
		logger.Error().Err(err).Msg("reminder query")
		return
	}

	for i := range due {
		dispatcher.AppointmentReminder(due[i], cfg.ReminderLeadTime)
	}

	logger.Info().
		Int("reminded", len(due)).
		Dur("elapsed", time.Since(start)).
		Msg("reminder run complete")
}
