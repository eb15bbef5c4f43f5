package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const msgInvalidCredentials = "invalid credentials"

// compared against when the email is unknown, so both failure paths cost a bcrypt round
var dummyPasswordHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), bcrypt.DefaultCost)

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *domain.User `json:"user"`
}

// Register bootstraps the first admin. Once an admin exists, accounts are
// created by admins through /agents/create.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name" validate:"required"`
		Email    string `json:"email" validate:"required,email"`
		Mobile   string `json:"mobile" validate:"required"`
		Password string `json:"password" validate:"required,min=6"`
		Role     string `json:"role" validate:"omitempty,oneof=admin agent"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.invalidBody(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	adminExists, err := h.repository.AdminExists(r.Context())
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}
	if adminExists {
		h.forbidden(w, r, "public registration disabled, only an admin can add users")
		return
	}

	if domain.Role(req.Role) != domain.RoleAdmin {
		h.errorResponse(w, r, http.StatusBadRequest, "first registered user must be an admin")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.bcryptCost)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	user := &domain.User{
		Name:         req.Name,
		Email:        strings.ToLower(req.Email),
		Mobile:       req.Mobile,
		PasswordHash: string(hashedPassword),
		Role:         domain.RoleAdmin,
	}

	if err := h.repository.CreateInitialAdmin(r.Context(), user); err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.Is(err, repository.ErrAdminExists):
			h.forbidden(w, r, "public registration disabled, only an admin can add users")
		case errors.As(err, &pgErr) && pgErr.ConstraintName == "users_email_key":
			h.conflict(w, r, "user already exists")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	token, expiration, err := h.tokens.Issue(user)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.createdResponse(w, r, "initial admin registered successfully", sessionResponse{
		Token:     token,
		ExpiresAt: expiration,
		User:      user,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.invalidBody(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	email := strings.ToLower(req.Email)

	if h.loginLimiter != nil {
		blocked, err := h.loginLimiter.Blocked(r.Context(), email)
		if err != nil {
			// the throttle fails open
			slog.Warn("login throttle unavailable", "error", err)
		}
		if blocked {
			h.metrics.RecordLogin(metrics.LoginThrottled)
			h.errorResponse(w, r, http.StatusTooManyRequests, "too many failed login attempts, try again later")
			return
		}
	}

	user, err := h.repository.GetUserByEmail(r.Context(), email)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(req.Password))
			h.loginFailed(w, r, email)
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		switch {
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			h.loginFailed(w, r, email)
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	if h.loginLimiter != nil {
		if err := h.loginLimiter.Reset(r.Context(), email); err != nil {
			slog.Warn("failed to reset login throttle", "error", err)
		}
	}

	token, expiration, err := h.tokens.Issue(user)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.metrics.RecordLogin(metrics.LoginSuccess)
	h.successResponse(w, r, "login successful", sessionResponse{
		Token:     token,
		ExpiresAt: expiration,
		User:      user,
	})
}

// loginFailed answers identically for unknown emails and wrong passwords.
func (h *Handler) loginFailed(w http.ResponseWriter, r *http.Request, email string) {
	if h.loginLimiter != nil {
		if err := h.loginLimiter.Fail(r.Context(), email); err != nil {
			slog.Warn("failed to record failed login", "error", err)
		}
	}
	h.metrics.RecordLogin(metrics.LoginInvalid)
	h.unauthorized(w, r, msgInvalidCredentials)
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	myInfo := r.Context().Value(MyInfoCtx).(*domain.User)
	h.successResponse(w, r, "profile fetched successfully", myInfo)
}
