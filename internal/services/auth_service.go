package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/guildgate/backend/internal/config"
	"github.com/guildgate/backend/internal/models"
	"github.com/guildgate/backend/pkg/crypto"
	jwtpkg "github.com/guildgate/backend/pkg/jwt"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// AuthService authenticates admin dashboard accounts. End users never
// log in here; they only interact through Discord.
type AuthService struct {
	db    *gorm.DB
	redis *redis.Client
	cfg   *config.Config
}

func NewAuthService(db *gorm.DB, redis *redis.Client, cfg *config.Config) *AuthService {
	return &AuthService{
		db:    db,
		redis: redis,
		cfg:   cfg,
	}
}

// Login authenticates an admin and returns tokens
func (s *AuthService) Login(username, password string) (string, string, *models.AdminUser, error) {
	var user models.AdminUser

	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", nil, errors.New("invalid credentials")
		}
		return "", "", nil, err
	}

	if !user.IsActive {
		return "", "", nil, errors.New("account is deactivated")
	}

	if !crypto.CheckPassword(password, user.Password) {
		return "", "", nil, errors.New("invalid credentials")
	}

	accessToken, err := jwtpkg.GenerateToken(user.ID.String(), jwtpkg.AccessToken, s.cfg.JWTSecret, s.cfg.JWTAccessTokenDuration)
	if err != nil {
		return "", "", nil, err
	}

	refreshToken, err := jwtpkg.GenerateToken(user.ID.String(), jwtpkg.RefreshToken, s.cfg.JWTSecret, s.cfg.JWTRefreshTokenDuration)
	if err != nil {
		return "", "", nil, err
	}

	refreshTokenModel := &models.RefreshToken{
		UserID:    user.ID,
		Token:     refreshToken,
		ExpiresAt: time.Now().Add(s.cfg.JWTRefreshTokenDuration),
	}

	if err := s.db.Create(refreshTokenModel).Error; err != nil {
		return "", "", nil, err
	}

	return accessToken, refreshToken, &user, nil
}

// RefreshToken generates new access token from refresh token
func (s *AuthService) RefreshToken(refreshToken string) (string, error) {
	claims, err := jwtpkg.ValidateToken(refreshToken, s.cfg.JWTSecret)
	if err != nil {
		return "", errors.New("invalid refresh token")
	}

	if claims.TokenType != jwtpkg.RefreshToken {
		return "", errors.New("invalid token type")
	}

	var tokenModel models.RefreshToken
	if err := s.db.Where("token = ?", refreshToken).First(&tokenModel).Error; err != nil {
		return "", errors.New("refresh token not found")
	}

	if time.Now().After(tokenModel.ExpiresAt) {
		return "", errors.New("refresh token expired")
	}

	accessToken, err := jwtpkg.GenerateToken(claims.UserID, jwtpkg.AccessToken, s.cfg.JWTSecret, s.cfg.JWTAccessTokenDuration)
	if err != nil {
		return "", err
	}

	return accessToken, nil
}

// Logout invalidates all refresh tokens for the admin
func (s *AuthService) Logout(userID uuid.UUID) error {
	return s.db.Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error
}

// ValidateAccessToken validates an access token and returns claims
func (s *AuthService) ValidateAccessToken(token string) (*jwtpkg.Claims, error) {
	claims, err := jwtpkg.ValidateToken(token, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != jwtpkg.AccessToken {
		return nil, errors.New("invalid token type")
	}

	// Optional: check if the token is blacklisted in Redis.
	// If redis is down, we allow the request to proceed.
	ctx := context.Background()
	blacklistKey := fmt.Sprintf("blacklist:token:%s", token)
	exists, err := s.redis.Exists(ctx, blacklistKey).Result()
	if err != nil {
		log.Printf("WARN: Could not connect to Redis to check token blacklist: %v", err)
	} else if exists > 0 {
		return nil, errors.New("token is blacklisted")
	}

	return claims, nil
}

// GetUserByID retrieves an admin by ID
func (s *AuthService) GetUserByID(userID uuid.UUID) (*models.AdminUser, error) {
	var user models.AdminUser
	if err := s.db.First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateDefaultAdmin creates the initial admin account if none exists
func (s *AuthService) CreateDefaultAdmin() error {
	var count int64
	if err := s.db.Model(&models.AdminUser{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := crypto.HashPassword(s.cfg.AdminPassword, s.cfg.BcryptCost)
	if err != nil {
		return err
	}

	admin := &models.AdminUser{
		Username: s.cfg.AdminUsername,
		Email:    s.cfg.AdminEmail,
		Password: hashed,
	}
	if err := s.db.Create(admin).Error; err != nil {
		return err
	}

	log.Printf("INFO: created default admin user %s", admin.Username)
	return nil
}

// CleanupExpiredTokens removes expired refresh tokens
func (s *AuthService) CleanupExpiredTokens() error {
	return s.db.Where("expires_at < ?", time.Now()).Delete(&models.RefreshToken{}).Error
}
