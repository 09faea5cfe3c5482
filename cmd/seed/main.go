package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskmanager/internal/auth"
	"taskmanager/internal/config"
	"taskmanager/internal/db"
	apperrors "taskmanager/internal/errors"
	"taskmanager/internal/logger"
	"taskmanager/internal/repository"
	"taskmanager/internal/service"
	"taskmanager/internal/validation"
)

// SeedFile is the document read by the seed tool.
type SeedFile struct {
	Users []SeedUser `json:"users"`
}

// SeedUser is an identity to register together with the tasks it owns.
type SeedUser struct {
	service.RegisterInput
	Tasks []service.TaskInput `json:"tasks"`
}

// Summary counts what a seed run did.
type Summary struct {
	UsersCreated int
	UsersReused  int
	TasksCreated int
	Skipped      int
}

func main() {
	source := flag.String("file", "seed.json", "path or http(s) URL of the seed document")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logger.Init(cfg.LogDevelopment); err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, err := db.Open(cfg)
	if err != nil {
		logger.Logger.Fatal("database init", zap.Error(err))
	}
	defer func() { _ = db.Close(gormDB) }()
	if err := db.Migrate(gormDB, false); err != nil {
		logger.Logger.Fatal("database migrate", zap.Error(err))
	}

	data, err := load(*source)
	if err != nil {
		logger.Logger.Fatal("load seed document", zap.String("source", *source), zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.TokenExpire)
	authService := service.NewAuthService(repository.NewUserRepository(gormDB), jwtService, auth.NewPasswordHasher())
	taskService := service.NewTaskService(repository.NewTaskRepository(gormDB), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	summary := seed(ctx, data, authService, taskService, validation.New())
	logger.Info("seed completed",
		zap.Int("users_created", summary.UsersCreated),
		zap.Int("users_reused", summary.UsersReused),
		zap.Int("tasks_created", summary.TasksCreated),
		zap.Int("skipped", summary.Skipped),
	)
}

// load reads the seed document from a local file or an http(s) URL.
func load(source string) (*SeedFile, error) {
	var r io.ReadCloser
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Get(source)
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
		}
		r = resp.Body
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, err
		}
		r = f
	}
	defer r.Close()

	var data SeedFile
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &data, nil
}

// seed registers every user and creates its tasks through the services, so the
// same validation and hashing apply as for API requests. Existing emails are reused
// when the supplied password matches.
func seed(ctx context.Context, data *SeedFile, authService service.AuthService, taskService service.TaskService, v *validation.Validator) Summary {
	var summary Summary

	for _, u := range data.Users {
		if err := v.Validate(&u.RegisterInput); err != nil {
			logger.Warn("skipping invalid user", zap.String("email", u.Email), zap.Error(err))
			summary.Skipped += 1 + len(u.Tasks)
			continue
		}

		result, err := authService.Register(ctx, u.RegisterInput)
		switch {
		case err == nil:
			summary.UsersCreated++
		case errors.Is(err, apperrors.ErrDuplicateEmail):
			result, err = authService.Login(ctx, service.LoginInput{Email: u.Email, Password: u.Password})
			if err != nil {
				logger.Warn("skipping existing user, login failed", zap.String("email", u.Email), zap.Error(err))
				summary.Skipped += 1 + len(u.Tasks)
				continue
			}
			logger.Info("user already exists, reusing", zap.String("email", u.Email))
			summary.UsersReused++
		default:
			logger.Error("register user", err, zap.String("email", u.Email))
			summary.Skipped += 1 + len(u.Tasks)
			continue
		}

		for i := range u.Tasks {
			task := u.Tasks[i]
			if err := v.Validate(&task); err != nil {
				logger.Warn("skipping invalid task", zap.String("email", u.Email), zap.String("title", task.Title), zap.Error(err))
				summary.Skipped++
				continue
			}
			if _, err := taskService.Create(ctx, result.User.ID, task); err != nil {
				logger.Warn("skipping task", zap.String("email", u.Email), zap.String("title", task.Title), zap.Error(err))
				summary.Skipped++
				continue
			}
			summary.TasksCreated++
		}
	}

	return summary
}
