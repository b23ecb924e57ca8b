package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/CUknot/chat_relay/models"
	"github.com/CUknot/chat_relay/utils"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
	ErrTokenRevoked = errors.New("token revoked")
)

// Accounts stores users and resolves tokens to relay identities.
type Accounts struct {
	db     *gorm.DB
	tokens *utils.TokenIssuer
}

func NewAccounts(db *gorm.DB, tokens *utils.TokenIssuer) *Accounts {
	return &Accounts{db: db, tokens: tokens}
}

// Create registers a new user; the password is hashed by the model hook.
func (a *Accounts) Create(ctx context.Context, username, password string) (*models.User, error) {
	var count int64
	if err := a.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	user := models.User{Username: username, Password: password}
	if err := a.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

func (a *Accounts) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := a.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

func (a *Accounts) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := a.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

func (a *Accounts) Delete(ctx context.Context, id uint) error {
	result := a.db.WithContext(ctx).Delete(&models.User{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// IssueToken signs a token for the user's current token generation.
func (a *Accounts) IssueToken(user *models.User) (string, error) {
	return a.tokens.GenerateToken(user.ID, user.TokenGeneration)
}

// RevokeTokens invalidates every token issued to the user so far.
func (a *Accounts) RevokeTokens(ctx context.Context, id uint) error {
	result := a.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		UpdateColumn("token_generation", gorm.Expr("token_generation + ?", 1))
	if result.Error != nil {
		return fmt.Errorf("failed to revoke tokens: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Authenticate checks the token, that its user still exists and that it has
// not been revoked by a logout.
func (a *Accounts) Authenticate(ctx context.Context, token string) (*models.User, error) {
	userID, generation, err := a.tokens.ParseToken(token)
	if err != nil {
		return nil, err
	}
	user, err := a.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if generation != user.TokenGeneration {
		return nil, ErrTokenRevoked
	}
	return user, nil
}

// ValidateToken resolves a token to the relay identity of its user.
func (a *Accounts) ValidateToken(ctx context.Context, token string) (models.Identity, error) {
	user, err := a.Authenticate(ctx, token)
	if err != nil {
		return models.Identity{}, err
	}
	return user.Identity(), nil
}
