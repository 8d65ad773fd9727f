package services

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"github.com/chainpot/keeper/internal/config"
	"github.com/chainpot/keeper/internal/models"
	"github.com/chainpot/keeper/internal/repositories"
	"github.com/chainpot/keeper/internal/utils"
)

type authService struct {
	operatorRepo repositories.OperatorRepository
	cfg          *config.Config
}

// NewAuthService creates a new AuthService implementation
func NewAuthService(operatorRepo repositories.OperatorRepository, cfg *config.Config) AuthService {
	return &authService{
		operatorRepo: operatorRepo,
		cfg:          cfg,
	}
}

// Login handles operator login
func (s *authService) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	operator, err := s.operatorRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		// Unknown email and wrong password look the same to the caller.
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(operator.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := utils.GenerateJWT(operator.ID.Hex(), operator.Email, operator.Role, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &models.LoginResponse{
		Token:     token,
		ExpiresIn: s.cfg.JWT.ExpiresIn,
		Role:      operator.Role,
	}, nil
}

// CreateOperator handles operator registration, used by the bootstrap CLI
func (s *authService) CreateOperator(ctx context.Context, email, name, password, role string) (*models.OperatorUser, error) {
	if role != "admin" && role != "viewer" {
		return nil, fmt.Errorf("unknown role %q, expected admin or viewer", role)
	}

	_, err := s.operatorRepo.FindByEmail(ctx, email)
	if err == nil {
		return nil, fmt.Errorf("operator with email %s already exists", email)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to check existing operator: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	operator := &models.OperatorUser{
		Email:    email,
		Name:     name,
		Password: string(hashedPassword),
		Role:     role,
	}
	if err := s.operatorRepo.Create(ctx, operator); err != nil {
		return nil, fmt.Errorf("failed to create operator: %w", err)
	}

	// Don't return the password hash
	operator.Password = ""
	return operator, nil
}
