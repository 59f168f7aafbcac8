// Package app wires configuration into the store, providers, services, and
// tasks shared by cmd/server and cmd/worker.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ignite/reviewloop/internal/api"
	"github.com/ignite/reviewloop/internal/config"
	"github.com/ignite/reviewloop/internal/pkg/distlock"
	"github.com/ignite/reviewloop/internal/pkg/logger"
	"github.com/ignite/reviewloop/internal/repository/memory"
	"github.com/ignite/reviewloop/internal/repository/postgres"
	"github.com/ignite/reviewloop/internal/sending"
	"github.com/ignite/reviewloop/internal/service/delivery"
	"github.com/ignite/reviewloop/internal/service/enrollment"
	"github.com/ignite/reviewloop/internal/service/feedback"
	"github.com/ignite/reviewloop/internal/token"
	"github.com/ignite/reviewloop/internal/worker"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// lockTTL bounds how long a crashed holder can block the recovery sweep.
const lockTTL = 5 * time.Minute

// Store is everything the services, workers, and API need from persistence.
// Both the Postgres and in-memory stores satisfy it.
type Store interface {
	enrollment.Repository
	delivery.SendLogStore
	delivery.ContactStore
	feedback.Store
	worker.TouchQueue
	worker.Directory
	worker.SendLogWriter
	worker.RetryQueue
	worker.RetryPurger
	api.Customers
	api.Campaigns
	api.Pinger
}

var (
	_ Store = (*postgres.Store)(nil)
	_ Store = (*memory.Store)(nil)
)

// App holds the wired components.
type App struct {
	Config      *config.Config
	DB          *sql.DB       // nil in dev mode
	Redis       *redis.Client // nil when not configured
	Store       Store
	Codec       *token.Codec
	Enrollments *enrollment.Service
	Reconciler  *delivery.Reconciler
	Feedback    *feedback.Service
	Scheduler   *worker.TouchScheduler
	Retries     *worker.RetryWorker
	Cleanup     *worker.Cleanup
}

// ConfigureLogging applies the logging section.
func ConfigureLogging(cfg config.LoggingConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	logger.SetRedactPII(cfg.Redact())
}

// New builds the application. In dev mode it runs on the in-memory store and
// needs no database.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if cfg.Server.DevMode {
		log.Println("[App] DEV_MODE: using in-memory store")
		a.Store = memory.New()
	} else {
		if cfg.Database.URL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required outside dev mode")
		}
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.Lifetime())

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		log.Println("[App] Connected to database")
		a.DB = db
		a.Store = postgres.New(db)
	}

	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Printf("[App] Warning: Redis connection failed (%s): %v, falling back to PG advisory locks", cfg.Redis.Addr, err)
			client.Close()
		} else {
			log.Printf("[App] Redis connected (%s)", cfg.Redis.Addr)
			a.Redis = client
		}
	}

	a.Codec = token.NewCodec(cfg.Secrets.TokenSecret)
	if a.Codec.Ephemeral() {
		logger.Error("REVIEW_TOKEN_SECRET is not set; using an ephemeral key, links will not survive a restart",
			"component", "app")
	}

	a.Enrollments = enrollment.NewService(a.Store)
	a.Reconciler = delivery.NewReconciler(a.Store, a.Store, a.Enrollments)
	a.Feedback = feedback.NewService(a.Codec, a.Store, a.Store, a.Store, a.Enrollments)

	sender, err := newRouter(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := worker.DispatchDeps{
		Touches:     a.Store,
		Directory:   a.Store,
		SendLogs:    a.Store,
		Retries:     a.Store,
		Enrollments: a.Enrollments,
		Sender:      sender,
		Renderer:    sending.NewLiquidRenderer(),
		Codec:       a.Codec,
		Links:       worker.NewLinks(linkBase(cfg)),
		Locks:       distlock.NewFactory(a.Redis, a.DB, lockTTL),
	}
	wcfg := worker.Config{
		BatchSize:        cfg.Scheduler.BatchSize,
		Concurrency:      cfg.Scheduler.Concurrency,
		StaleAfter:       cfg.Scheduler.StaleAfter(),
		RetryMaxAttempts: cfg.Scheduler.RetryMaxAttempts,
		RetryBackoff:     cfg.Scheduler.RetryBackoff(),
	}
	a.Scheduler = worker.NewTouchScheduler(deps, wcfg)
	a.Retries = worker.NewRetryWorker(deps, wcfg)
	a.Cleanup = worker.NewCleanup(a.Store, cfg.Scheduler.Retention())
	return a, nil
}

// Tasks returns the scheduled tasks in run order.
func (a *App) Tasks() []worker.Task {
	return []worker.Task{a.Scheduler, a.Retries, a.Cleanup}
}

// Close releases connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func linkBase(cfg *config.Config) string {
	if cfg.Review.LinkBaseURL != "" {
		return cfg.Review.LinkBaseURL
	}
	return strings.TrimRight(cfg.Server.PublicBaseURL, "/") + "/r"
}

// newRouter builds the email and SMS senders. An unconfigured channel is
// left nil; sends on it fail and go through the retry queue.
func newRouter(ctx context.Context, cfg *config.Config) (*sending.Router, error) {
	r := &sending.Router{}

	switch cfg.Email.Provider {
	case "ses":
		s, err := sending.NewSESSender(ctx, sending.SESOptions{
			Region:           cfg.Email.SES.Region,
			AccessKey:        cfg.Email.SES.AccessKey,
			SecretKey:        cfg.Email.SES.SecretKey,
			ConfigurationSet: cfg.Email.SES.ConfigurationSet,
			FromName:         cfg.Email.FromName,
			FromEmail:        cfg.Email.FromEmail,
			ReplyTo:          cfg.Email.ReplyTo,
		})
		if err != nil {
			return nil, fmt.Errorf("ses sender: %w", err)
		}
		r.Email = s
		log.Printf("[App] Email provider: ses (%s)", cfg.Email.SES.Region)
	case "mailgun":
		if cfg.Email.Mailgun.APIKey == "" {
			log.Println("[App] Warning: MAILGUN_API_KEY not set, email sending disabled")
			break
		}
		r.Email = sending.NewMailgunSender(sending.MailgunOptions{
			APIKey:    cfg.Email.Mailgun.APIKey,
			Domain:    cfg.Email.Mailgun.Domain,
			BaseURL:   cfg.Email.Mailgun.BaseURL,
			FromName:  cfg.Email.FromName,
			FromEmail: cfg.Email.FromEmail,
			ReplyTo:   cfg.Email.ReplyTo,
			Timeout:   cfg.Email.Mailgun.Timeout(),
		})
		log.Printf("[App] Email provider: mailgun (%s)", cfg.Email.Mailgun.Domain)
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
	}

	if cfg.SMS.AccountSID == "" {
		log.Println("[App] Warning: TWILIO_ACCOUNT_SID not set, SMS sending disabled")
		return r, nil
	}
	var callback string
	if cfg.Server.PublicBaseURL != "" {
		callback = strings.TrimRight(cfg.Server.PublicBaseURL, "/") + "/webhooks/sms/status"
	}
	r.SMS = sending.NewTwilioSender(sending.TwilioOptions{
		AccountSID:     cfg.SMS.AccountSID,
		AuthToken:      cfg.SMS.AuthToken,
		FromNumber:     cfg.SMS.FromNumber,
		BaseURL:        cfg.SMS.BaseURL,
		StatusCallback: callback,
		Timeout:        cfg.SMS.Timeout(),
	})
	return r, nil
}
