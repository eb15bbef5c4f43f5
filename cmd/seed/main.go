package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/config"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/repository"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/seed"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	var op int
	var n int
	var file string

	flag.IntVar(&op, "op", 0, "operation to run (1: insert random agents, 2: import agents from a CSV file)")
	flag.IntVar(&n, "n", 5, "number of random agents to insert")
	flag.StringVar(&file, "file", "", "CSV file with name,email,mobile columns")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

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

	if err := dbpool.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		return
	}

	repo := repository.NewRepository(cfg, dbpool)

	switch op {
	case 0:
		logger.Error("no operation given")
	case 1:
		inserted, err := seed.SeedRandomAgents(context.Background(), repo, n, cfg.Seed.User.Password, cfg.Seed.EmailDomain)
		if err != nil {
			logger.Error("failed to insert random agents", slog.String("error", err.Error()))
			return
		}
		logger.Info("random agents inserted", slog.Int("count", inserted))
	case 2:
		if file == "" {
			logger.Error("-file is required for this operation")
			return
		}

		f, err := os.Open(file)
		if err != nil {
			logger.Error("failed to open agents file", "error", err)
			return
		}
		defer f.Close()

		inserted, err := seed.ImportAgents(context.Background(), repo, f, cfg.Seed.User.Password)
		if err != nil {
			logger.Error("failed to import agents", slog.Int("inserted", inserted), slog.String("error", err.Error()))
			return
		}
		logger.Info("agents imported", slog.Int("count", inserted))
	default:
		logger.Error("unknown operation", slog.Int("op", op))
	}
}
