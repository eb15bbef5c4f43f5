package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

// UserCreator is the part of the repository the seeder writes through.
type UserCreator interface {
	CreateUser(ctx context.Context, user *domain.User) error
}

var agentHeaders = []string{"name", "email", "mobile"}

// SeedRandomAgents inserts n generated agents sharing one password and
// returns how many were inserted.
func SeedRandomAgents(ctx context.Context, repo UserCreator, n int, password, emailDomain string) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid agent count %d", n)
	}

	inserted := 0
	for i := 0; i < n; i++ {
		agent, err := utils.GenerateRandomAgent(password, emailDomain)
		if err != nil {
			return inserted, err
		}

		if err := repo.CreateUser(ctx, agent); err != nil {
			slog.Error("failed to insert agent", "email", agent.Email, "error", err)
			continue
		}
		inserted++
	}

	return inserted, nil
}

// ImportAgents reads a name,email,mobile CSV and inserts one agent per row.
// Rows with a duplicate email are skipped, other insert errors abort.
func ImportAgents(ctx context.Context, repo UserCreator, r io.Reader, password string) (int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, errors.New("agents file is empty")
		}
		return 0, err
	}

	index := make(map[string]int, len(headers))
	for i, header := range headers {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header, "\ufeff")))] = i
	}
	for _, header := range agentHeaders {
		if _, ok := index[header]; !ok {
			return 0, fmt.Errorf("agents file is missing column %q", header)
		}
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return inserted, err
		}

		field := func(name string) string {
			if i := index[name]; i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}
		if slices.ContainsFunc(agentHeaders, func(h string) bool { return field(h) == "" }) {
			slog.Warn("skipping incomplete agent row", "line", line)
			continue
		}

		agent := &domain.User{
			Name:         field("name"),
			Email:        strings.ToLower(field("email")),
			Mobile:       field("mobile"),
			PasswordHash: string(passwordHash),
			Role:         domain.RoleAgent,
		}

		if err := repo.CreateUser(ctx, agent); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.ConstraintName == "users_email_key" {
				slog.Warn("agent already exists", "line", line, "email", agent.Email)
				continue
			}
			return inserted, err
		}
		inserted++
	}

	return inserted, nil
}
