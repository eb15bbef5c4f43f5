package handler

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/auth"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/config"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Store is the persistence the handlers need; *repository.Repository implements it.
type Store interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetAllAgents(ctx context.Context) ([]*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) error
	CreateInitialAdmin(ctx context.Context, user *domain.User) error
	AdminExists(ctx context.Context) (bool, error)
	DeleteAgent(ctx context.Context, id int64) error

	CreateDistributedList(ctx context.Context, list *domain.List, distribute repository.DistributeFunc) ([]domain.Assignment, error)
	GetAllLists(ctx context.Context) ([]*domain.List, error)
	GetListByID(ctx context.Context, id int64) (*domain.List, error)
	DeleteList(ctx context.Context, id int64) error

	GetAssignmentsByAgent(ctx context.Context, agentID int64) ([]*domain.Assignment, error)
	GetAssignmentsByList(ctx context.Context, listID int64, agentID *int64) ([]*domain.Assignment, error)
}

// LoginLimiter tracks failed logins per email; *throttle.Limiter implements it.
type LoginLimiter interface {
	Blocked(ctx context.Context, subject string) (bool, error)
	Fail(ctx context.Context, subject string) error
	Reset(ctx context.Context, subject string) error
}

// MailPublisher is satisfied by *amqp.Channel.
type MailPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Handler struct {
	validate      *validator.Validate
	config        *config.Config
	repository    Store
	translator    ut.Translator
	tokens        *auth.Issuer
	mailPublisher MailPublisher
	loginLimiter  LoginLimiter
	metrics       *metrics.Metrics
	bcryptCost    int

	Mux *chi.Mux
}

// NewHandler wires the HTTP layer. mailCh and limiter may be nil, which
// disables notifications and login throttling respectively.
func NewHandler(cfg *config.Config, repo Store, mailCh MailPublisher, limiter LoginLimiter, m *metrics.Metrics) (*Handler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	if m == nil {
		m = metrics.New()
	}

	return &Handler{
		validate:      validate,
		config:        cfg,
		repository:    repo,
		translator:    trans,
		tokens:        auth.NewIssuer(cfg.JWT.Secret, time.Duration(cfg.JWT.Expiration)*time.Second),
		mailPublisher: mailCh,
		loginLimiter:  limiter,
		metrics:       m,
		bcryptCost:    bcrypt.DefaultCost,

		Mux: chi.NewRouter(),
	}, nil
}

func (h *Handler) RegisterRoutes() {
	h.Mux.Use(h.logger)
	h.Mux.Use(h.recoverer)
	h.Mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if h.config.Server.RateLimit > 0 {
		h.Mux.Use(httprate.LimitByIP(h.config.Server.RateLimit, time.Minute))
	}

	h.Mux.Get("/healthz", h.Healthz)
	h.Mux.Method("GET", "/metrics", h.metrics.Handler())

	// public authentication endpoints
	h.Mux.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(h.auth, h.myInfo).Get("/profile", h.GetProfile)
	})

	// everything below requires a valid token
	h.Mux.Group(func(r chi.Router) {
		r.Use(h.auth)

		r.Route("/agents", func(r chi.Router) {
			r.Use(h.RequiredRole(domain.RoleAdmin))
			r.Post("/create", h.CreateAgent)
			r.Get("/", h.GetAllAgents)
			r.Delete("/{id}", h.DeleteAgent)
		})

		r.Route("/lists", func(r chi.Router) {
			r.With(h.RequiredRole(domain.RoleAdmin)).Post("/upload", h.UploadList)
			r.With(h.RequiredRole(domain.RoleAdmin)).Get("/", h.GetAllLists)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.RequiredRole(domain.RoleAdmin, domain.RoleAgent))
				r.Use(h.listInfo)
				r.Get("/", h.GetList)
				r.Get("/assignments", h.GetListAssignments)
				r.With(h.RequiredRole(domain.RoleAdmin)).Delete("/", h.DeleteList)
			})
		})

		r.Route("/assignments", func(r chi.Router) {
			r.With(h.RequiredRole(domain.RoleAgent)).Get("/me", h.GetMyAssignments)
		})
	})
}
