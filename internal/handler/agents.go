package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name" validate:"required"`
		Email    string `json:"email" validate:"required,email"`
		Mobile   string `json:"mobile" validate:"required"`
		Password string `json:"password" validate:"omitempty,min=6"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.invalidBody(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	// without a password one is generated and sent with the welcome mail
	mailedPassword := ""
	if req.Password == "" {
		if h.mailPublisher == nil {
			h.errorResponse(w, r, http.StatusBadRequest, "password is required")
			return
		}
		req.Password = utils.GenerateRandomPassword(h.config.NewUser.PasswordLength)
		mailedPassword = req.Password
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.bcryptCost)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	agent := &domain.User{
		Name:         req.Name,
		Email:        strings.ToLower(req.Email),
		Mobile:       req.Mobile,
		PasswordHash: string(hashedPassword),
		Role:         domain.RoleAgent,
	}

	if err := h.repository.CreateUser(r.Context(), agent); err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &pgErr):
			switch pgErr.ConstraintName {
			case "users_email_key":
				h.conflict(w, r, "agent already exists")
			default:
				h.internalServerError(w, r, err)
			}
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	// the account exists at this point, a lost welcome mail is only logged
	if err := h.publishMail(r.Context(), domain.MailMessage{
		Type: domain.MailCreateAgent,
		To:   agent.Email,
		Data: domain.CreateAgentMailData{
			Name:     agent.Name,
			Email:    agent.Email,
			Password: mailedPassword,
		},
	}); err != nil {
		slog.Error("failed to queue welcome mail", "agent", agent.ID, "error", err)
	}

	h.createdResponse(w, r, "agent created successfully", agent)
}

func (h *Handler) GetAllAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.repository.GetAllAgents(r.Context())
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "agents fetched successfully", agents)
}

func (h *Handler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	agentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.errorResponse(w, r, http.StatusBadRequest, "invalid agent id")
		return
	}

	if err := h.repository.DeleteAgent(r.Context(), agentID); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.notFound(w, r, "agent not found")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, "agent deleted successfully", nil)
}
