package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"taskmanager/internal/auth"
	apperrors "taskmanager/internal/errors"
	"taskmanager/internal/model"
	"taskmanager/internal/repository"
)

// RegisterInput is the credential registration payload.
type RegisterInput struct {
	Username string     `json:"username" validate:"notblank" example:"alice"`
	Email    string     `json:"email" validate:"required,email" example:"a@x.com"`
	Password string     `json:"password" validate:"required,password" example:"Abcdef1!"`
	Role     model.Role `json:"role,omitempty" validate:"omitempty,oneof=user admin" example:"user"`
}

// LoginInput is the credential login payload.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email" example:"a@x.com"`
	Password string `json:"password" validate:"required" example:"Abcdef1!"`
}

// AuthResult is returned by every successful authentication.
type AuthResult struct {
	Token string           `json:"token"`
	User  model.PublicUser `json:"user"`
}

// AuthService handles authentication operations.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*AuthResult, error)
	Login(ctx context.Context, in LoginInput) (*AuthResult, error)
	LoginWithProfile(ctx context.Context, profile *auth.Profile) (*AuthResult, error)
}

type authService struct {
	userRepo   repository.UserRepository
	jwtService *auth.JWTService
	hasher     *auth.PasswordHasher
}

// NewAuthService creates a new authentication service.
func NewAuthService(userRepo repository.UserRepository, jwtService *auth.JWTService, hasher *auth.PasswordHasher) AuthService {
	return &authService{
		userRepo:   userRepo,
		jwtService: jwtService,
		hasher:     hasher,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new identity with a hashed password and issues a token for it.
func (s *authService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := normalizeEmail(in.Email)

	// Check if identity already exists
	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, apperrors.ErrDuplicateEmail
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check identity existence: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Username:     strings.TrimSpace(in.Username),
		Email:        email,
		PasswordHash: hash,
		Role:         in.Role,
		Provider:     model.ProviderLocal,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		// Lost a race with a concurrent registration of the same email.
		if errors.Is(err, apperrors.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}

	return s.issue(user)
}

// Login authenticates an identity by email and password.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *authService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(in.Email))
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("find identity: %w", err)
		}
		s.hasher.Verify(in.Password, "")
		return nil, apperrors.ErrInvalidCredentials
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		return nil, apperrors.ErrInvalidCredentials
	}

	return s.issue(user)
}

// LoginWithProfile finds the identity matching an OAuth profile email, creating it on first login.
func (s *authService) LoginWithProfile(ctx context.Context, profile *auth.Profile) (*AuthResult, error) {
	email := normalizeEmail(profile.Email)

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err == nil {
		return s.issue(user)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find identity: %w", err)
	}

	username := strings.TrimSpace(profile.Name)
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}
	user = &model.User{
		Username: username,
		Email:    email,
		Role:     model.RoleUser,
		Provider: profile.Provider,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if !errors.Is(err, apperrors.ErrDuplicateEmail) {
			return nil, fmt.Errorf("create identity: %w", err)
		}
		// Created concurrently by another callback.
		if user, err = s.userRepo.FindByEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("find identity: %w", err)
		}
	}

	return s.issue(user)
}

func (s *authService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.jwtService.IssueDefault(user.ID.String(), user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{Token: token, User: user.Public()}, nil
}
