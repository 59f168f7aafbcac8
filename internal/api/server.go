// Package api exposes the engine over HTTP: provider webhooks, the
// customer-facing token endpoints, job intake, owner actions, and task
// triggers for external schedulers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/service/delivery"
	"github.com/ignite/reviewloop/internal/service/enrollment"
	"github.com/ignite/reviewloop/internal/service/feedback"
	"github.com/ignite/reviewloop/internal/worker"
)

// maxWebhookBytes caps provider callback bodies.
const maxWebhookBytes = 5 << 20

// Enrollments is the slice of the enrollment service the API drives.
type Enrollments interface {
	Enroll(ctx context.Context, job domain.Job, opts enrollment.EnrollOptions) (*enrollment.Result, error)
	Stop(ctx context.Context, enrollmentID string, reason domain.StopReason) (bool, error)
	StopForCampaign(ctx context.Context, campaignID string, reason domain.StopReason) ([]string, error)
}

// EventApplier applies normalized provider callbacks.
type EventApplier interface {
	Apply(ctx context.Context, ev delivery.Event) (*delivery.Result, error)
}

// Feedback captures what customers do behind their token.
type Feedback interface {
	SubmitRating(ctx context.Context, tok string, rating int, destination string) (*feedback.RatingResult, error)
	SubmitFeedback(ctx context.Context, tok, message string) (*domain.Feedback, error)
	CheckOptOut(tok string, channel domain.Channel) error
	OptOut(ctx context.Context, tok string, channel domain.Channel) error
}

// Customers upserts customer records sent along with completed jobs.
type Customers interface {
	UpsertCustomer(ctx context.Context, c *domain.Customer) error
}

// Campaigns changes campaign status on owner actions.
type Campaigns interface {
	SetCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error
}

// Pinger reports datastore reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the handlers.
type Deps struct {
	Enrollments Enrollments
	Events      EventApplier
	Feedback    Feedback
	Customers   Customers
	Campaigns   Campaigns
	Store       Pinger
	Tasks       []worker.Task
}

// Options holds the HTTP-facing secrets and origins. An empty secret
// disables the endpoints it guards.
type Options struct {
	// PublicBaseURL is the origin SMS callbacks are signed against.
	PublicBaseURL     string
	AllowedOrigins    []string
	TaskSecret        string
	MailgunSigningKey string
	SESWebhookToken   string
	TwilioAuthToken   string
	// SNSClient confirms SES topic subscriptions. Defaults to a 10s client.
	SNSClient *http.Client
}

// Server holds the handlers.
type Server struct {
	deps      Deps
	opts      Options
	tasks     map[string]worker.Task
	now       func() time.Time
	startTime time.Time
}

// NewServer creates the API server.
func NewServer(deps Deps, opts Options) *Server {
	if opts.SNSClient == nil {
		opts.SNSClient = &http.Client{Timeout: 10 * time.Second}
	}
	tasks := make(map[string]worker.Task, len(deps.Tasks))
	for _, t := range deps.Tasks {
		tasks[t.Name()] = t
	}
	return &Server{deps: deps, opts: opts, tasks: tasks, now: time.Now, startTime: time.Now()}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Get("/health", s.handleHealth)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/email/mailgun", s.handleMailgunWebhook)
		r.Post("/email/ses/{token}", s.handleSESWebhook)
		r.Post("/sms/status", s.handleSMSStatus)
		r.Post("/sms/inbound", s.handleSMSInbound)
	})

	// Customer-facing endpoints are called from the hosted rating page.
	r.Route("/r", func(r chi.Router) {
		r.Use(cors.Handler(s.corsOptions()))
		r.Post("/rating", s.handleRating)
		r.Post("/feedback", s.handleFeedback)
		r.Get("/opt-out", s.handleOptOutPage)
		r.Post("/opt-out", s.handleOptOut)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(s.requireTaskSecret)
		r.Post("/jobs/completed", s.handleJobCompleted)
		r.Post("/enrollments/{id}/stop", s.handleStopEnrollment)
		r.Post("/campaigns/{id}/stop", s.handleStopCampaign)
		r.Post("/tasks/{name}", s.handleRunTask)
	})

	return r
}

func (s *Server) corsOptions() cors.Options {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}
}
