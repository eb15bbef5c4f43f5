package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/config"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/handler"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/repository"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/throttle"
	"golang.org/x/crypto/bcrypt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	/**********************************************
	 * logger
	 **********************************************/
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	/**********************************************
	 * config
	 **********************************************/
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	/**********************************************
	 * database
	 **********************************************/
	dbpool, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		return
	}
	defer dbpool.Close()

	dbpool.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	dbpool.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	dbpool.SetConnMaxIdleTime(time.Duration(cfg.Database.MaxIdleTime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Database.ConnectTimeout)*time.Second)
	defer cancel()

	// sql.Open does not connect, ping to fail fast
	if err := dbpool.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		return
	}

	repo := repository.NewRepository(cfg, dbpool)

	/**********************************************
	 * initial admin
	 **********************************************/
	if cfg.HasInitialAdmin() {
		if err := ensureInitialAdmin(ctx, cfg, repo); err != nil {
			logger.Error("failed to create initial admin", "error", err)
			return
		}
	} else {
		logger.Info("no initial admin configured, the first admin must register through /auth/register")
	}

	/**********************************************
	 * rabbitmq
	 **********************************************/
	var mailPublisher handler.MailPublisher
	if cfg.RabbitMQ.DSN != "" {
		conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			return
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			logger.Error("failed to open channel", "error", err)
			return
		}
		defer ch.Close()

		_, err = ch.QueueDeclare(
			handler.MailQueue,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			logger.Error("failed to declare queue", "error", err)
			return
		}
		mailPublisher = ch
	} else {
		logger.Warn("RABBITMQ_DSN is empty, mail notifications are disabled")
	}

	/**********************************************
	 * redis
	 **********************************************/
	var loginLimiter handler.LoginLimiter
	if cfg.Redis.Host != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       0,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			// the throttle fails open, so a missing redis only loses throttling
			logger.Warn("redis unreachable, login throttling is inactive until it recovers", "error", err)
		}

		loginLimiter = throttle.NewLimiter(
			rdb,
			cfg.Login.MaxAttempts,
			time.Duration(cfg.Login.Window)*time.Second,
			time.Duration(cfg.Redis.OperationTimeout)*time.Second,
		)
	}

	/**********************************************
	 * handler
	 **********************************************/
	h, err := handler.NewHandler(cfg, repo, mailPublisher, loginLimiter, metrics.New())
	if err != nil {
		logger.Error("failed to create handler", "error", err)
		return
	}
	h.RegisterRoutes()

	/**********************************************
	 * http server
	 **********************************************/
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      h.Mux,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			quit <- syscall.SIGTERM
		}
	}()

	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	logger.Info("server stopped")
}

// ensureInitialAdmin creates the configured admin unless an admin already exists.
func ensureInitialAdmin(ctx context.Context, cfg *config.Config, repo *repository.Repository) error {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(cfg.InitialAdmin.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &domain.User{
		Name:         cfg.InitialAdmin.Name,
		Email:        strings.ToLower(cfg.InitialAdmin.Email),
		Mobile:       cfg.InitialAdmin.Mobile,
		PasswordHash: string(passwordHash),
		Role:         domain.RoleAdmin,
	}

	if err := repo.CreateInitialAdmin(ctx, admin); err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.Is(err, repository.ErrAdminExists):
			// already bootstrapped
		case errors.As(err, &pgErr) && pgErr.ConstraintName == "users_email_key":
			return fmt.Errorf("initial admin email %s belongs to an existing user", admin.Email)
		default:
			return err
		}
		return nil
	}

	slog.Info("initial admin created", "email", admin.Email)
	return nil
}
