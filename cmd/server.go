package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/room-scheduler/internal/auth"
	"github.com/example/room-scheduler/internal/availability"
	"github.com/example/room-scheduler/internal/config"
	"github.com/example/room-scheduler/internal/db"
	"github.com/example/room-scheduler/internal/logging"
	"github.com/example/room-scheduler/internal/mail"
	"github.com/example/room-scheduler/internal/metrics"
	"github.com/example/room-scheduler/internal/migrate"
	"github.com/example/room-scheduler/internal/notify"
	"github.com/example/room-scheduler/internal/reservations"
	"github.com/example/room-scheduler/internal/scheduler"
	"github.com/example/room-scheduler/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the web UI, API and notification queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			log := logging.New(logging.Config(cfg.Logging))

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}

			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			loc, err := time.LoadLocation(cfg.Booking.Timezone)
			if err != nil {
				return fmt.Errorf("booking.timezone: %w", err)
			}

			hashKey, blockKey, err := cfg.SessionKeys()
			if err != nil {
				return err
			}
			authStore := auth.NewStore(d, hashKey, blockKey)

			repo := reservations.NewRepo(d)
			engine := availability.NewEngine(loc, availability.WithScanCap(cfg.Booking.ScanCapDays))

			mailer, err := mail.New(mail.Config{
				Host:     cfg.SMTP.Host,
				Port:     cfg.SMTP.Port,
				Username: cfg.SMTP.Username,
				Password: cfg.SMTP.Password,
				From:     cfg.SMTP.From,
				FromName: cfg.SMTP.FromName,
				TLS:      cfg.SMTP.TLS,
				Timeout:  cfg.SMTP.Timeout,
			}, log)
			if err != nil {
				return fmt.Errorf("smtp: %w", err)
			}

			m := metrics.New()

			queue := notify.NewQueue(notify.Config{
				MaxConcurrency: cfg.Notifications.MaxConcurrency,
				MaxAttempts:    cfg.Notifications.MaxAttempts,
				BaseDelay:      cfg.Notifications.BaseDelay,
				RecheckDelay:   cfg.Notifications.RecheckDelay,
				AdminEmail:     cfg.Notifications.AdminEmail,
			}, log, mailer, reservations.NotifySource{Repo: repo}, notify.FixedSettings{
				SendUserEmails:  cfg.Notifications.SendUserEmails,
				SendAdminEmails: cfg.Notifications.SendAdminEmails,
			}, notify.WithMetrics(m))

			svc := reservations.NewService(repo, engine, businessHours(cfg.Booking.Hours), queue,
				reservations.ServiceConfig{
					DailyCapacity: cfg.Booking.DailyCapacity,
					LimitedAt:     cfg.Booking.LimitedAt,
				}, log)

			sched := scheduler.New(repo, queue, loc, log)
			if err := sched.Start(ctx); err != nil {
				return err
			}

			ws := web.NewServer(authStore, svc, queue, m, log, cfg.Server.BaseURL)
			log.Info().Str("addr", cfg.Server.Addr).Msg("server starting")
			serveErr := web.Start(ctx, cfg.Server.Addr, ws.Routes(), log)

			sched.Stop()
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer closeCancel()
			if err := queue.Close(closeCtx); err != nil {
				log.Warn().Err(err).Msg("notification queue did not drain cleanly")
			}
			return serveErr
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

// businessHours converts the config weekday table into the engine's shape.
func businessHours(hours map[string]config.DayHours) availability.BusinessHours {
	out := make(availability.BusinessHours, len(hours))
	for day, h := range hours {
		out[day] = availability.DaySchedule{
			Enabled: h.Enabled,
			Slot:    availability.Slot{Start: h.Start, End: h.End},
		}
	}
	return out
}
