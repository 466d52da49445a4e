package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/telemed/telemed/internal/config"
	"github.com/telemed/telemed/internal/domain/appointment"
	"github.com/telemed/telemed/internal/domain/doctor"
	"github.com/telemed/telemed/internal/domain/payment"
	"github.com/telemed/telemed/internal/domain/schedule"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/blobstore"
	"github.com/telemed/telemed/internal/platform/civiltime"
	"github.com/telemed/telemed/internal/platform/db"
	"github.com/telemed/telemed/internal/platform/invoice"
	"github.com/telemed/telemed/internal/platform/middleware"
	"github.com/telemed/telemed/internal/platform/notification"
)

// BookingMailer emails patients when their appointment is booked or
// rejected. Recipient and display names come through the billing parties
// projection, which avoids a circular import between the appointment and
// payment packages. Failures are logged and swallowed.
type BookingMailer struct {
	parties   payment.PartySource
	sender    notification.Sender
	templates *notification.TemplateEngine
	log       zerolog.Logger
}

func (m *BookingMailer) AppointmentBooked(ctx context.Context, appt *appointment.Appointment) {
	m.send(ctx, "appointment_booked", appt, nil)
}

func (m *BookingMailer) AppointmentRejected(ctx context.Context, appt *appointment.Appointment) {
	m.send(ctx, "appointment_rejected", appt, map[string]string{"doctor_note": appt.DoctorNote})
}

func (m *BookingMailer) send(ctx context.Context, templateID string, appt *appointment.Appointment, extra map[string]string) {
	parties, err := m.parties.InvoiceParties(ctx, appt.ID)
	if err != nil {
		m.log.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("booking email skipped")
		return
	}
	data := map[string]string{
		"patient_name": parties.PatientName,
		"doctor_name":  parties.DoctorName,
		"scheduled_at": parties.SlotKey,
	}
	for k, v := range extra {
		data[k] = v
	}
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		m.log.Warn().Err(err).Str("template", templateID).Msg("booking email skipped")
		return
	}
	err = m.sender.Send(ctx, notification.Message{To: parties.PatientEmail, Subject: subject, Body: body})
	if err != nil {
		m.log.Warn().Err(err).Str("to", parties.PatientEmail).Msg("booking email failed")
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "telemed-server",
		Short: "Telemedicine appointment API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the appointment API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	zone := civiltime.NewZone(cfg.Timezone, cfg.TimezoneFallbackOffsetMin)
	inTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.RunInTx(ctx, pool, fn)
	}

	// Repositories
	doctorRepo := doctor.NewPGRepository(pool)
	scheduleRepo := schedule.NewPGRepository(pool)
	apptRepo := appointment.NewPGRepository(pool)
	paymentRepo := payment.NewPGRepository(pool)

	// Services
	scheduleSvc := schedule.NewService(scheduleRepo, apptRepo, cfg.MinMinutesPerPatient)
	apptSvc := appointment.NewService(
		apptRepo, scheduleRepo, doctorRepo, paymentRepo, paymentRepo,
		zone, inTx,
		appointment.ServiceConfig{
			FullApprovalFlow: cfg.FullApprovalFlow,
			PendingTTL:       time.Duration(cfg.PendingPaymentTTLHours) * time.Hour,
		},
		logger,
	)

	var sender notification.Sender = notification.NopSender{}
	if cfg.SMTPConfigured() {
		sender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		logger.Warn().Msg("SMTP not configured; notification emails disabled")
	}

	templates := notification.NewTemplateEngine()
	paymentSvc := payment.NewService(
		paymentRepo, apptSvc, paymentRepo,
		invoice.NewRenderer(cfg.BusinessName, cfg.InvoiceDir),
		sender, templates,
		inTx, logger,
	)
	apptSvc.SetNotifier(&BookingMailer{
		parties:   paymentRepo,
		sender:    sender,
		templates: templates,
		log:       logger,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Authenticated API. The payment gateway webhook stays outside this
	// group: it authenticates with an HMAC signature, not a bearer token.
	apiV1 := e.Group("/api/v1")
	apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
		SigningKey: []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
	}))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Handlers
	doctor.NewHandler(doctorRepo).RegisterRoutes(apiV1)
	schedule.NewHandler(scheduleSvc).RegisterRoutes(apiV1)
	appointment.NewHandler(apptSvc).RegisterRoutes(apiV1)
	paymentHandler := payment.NewHandler(paymentSvc, []byte(cfg.PaymentWebhookSecret))
	paymentHandler.RegisterRoutes(apiV1)
	paymentHandler.RegisterWebhook(e)
	blobstore.NewHandler(blobstore.NewInMemoryBlobStore()).RegisterRoutes(apiV1)

	// Pending-payment reaper
	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go runReaper(reaperCtx, apptSvc, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// runReaper expires stale unpaid appointments so their slots can be rebooked.
func runReaper(ctx context.Context, svc *appointment.Service, logger zerolog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.ExpirePending(ctx, time.Now().UTC())
			if err != nil {
				logger.Error().Err(err).Msg("expiring pending appointments failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("count", n).Msg("expired pending appointments")
			}
		}
	}
}
