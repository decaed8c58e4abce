// Package auth issues player reconnect tokens and checks host PINs
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/findosh/mingle/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidPIN     = errors.New("invalid host pin")
	ErrPINTooShort    = errors.New("host pin must be at least 4 characters")
	ErrSessionExpired = errors.New("token expired")
	ErrInvalidToken   = errors.New("invalid token")
)

// MinPINLength is the shortest host PIN accepted at session creation
const MinPINLength = 4

// Service handles token and PIN operations
type Service struct {
	cfg *config.Config
}

// NewService creates a new auth service
func NewService(cfg *config.Config) *Service {
	return &Service{cfg: cfg}
}

// PlayerClaims identifies a player across reconnects
type PlayerClaims struct {
	PlayerID  uuid.UUID
	SessionID string
	Name      string
	ExpiresAt time.Time
}

// IssuePlayerToken signs a reconnect token for a player
func (s *Service) IssuePlayerToken(playerID uuid.UUID, sessionID, name string) (string, time.Time, error) {
	expires := time.Now().Add(s.cfg.TokenDuration)
	claims := jwt.MapClaims{
		"sub":  playerID.String(),
		"sid":  sessionID,
		"name": name,
		"exp":  expires.Unix(),
		"iat":  time.Now().Unix(),
		"jti":  generateJTI(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.SecretKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// ValidatePlayerToken verifies a reconnect token and returns its claims
func (s *Service) ValidatePlayerToken(tokenString string) (*PlayerClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.SecretKey), nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}
	playerID, err := uuid.Parse(sub)
	if err != nil {
		return nil, ErrInvalidToken
	}

	sessionID, ok := claims["sid"].(string)
	if !ok || sessionID == "" {
		return nil, ErrInvalidToken
	}
	name, _ := claims["name"].(string)

	return &PlayerClaims{
		PlayerID:  playerID,
		SessionID: sessionID,
		Name:      name,
		ExpiresAt: time.Unix(int64(exp), 0),
	}, nil
}

// HashPIN hashes a host PIN for storage
func (s *Service) HashPIN(pin string) (string, error) {
	if len(pin) < MinPINLength {
		return "", ErrPINTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin: %w", err)
	}
	return string(hash), nil
}

// CheckPIN compares a PIN against its stored hash
func (s *Service) CheckPIN(hash, pin string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		return ErrInvalidPIN
	}
	return nil
}

func generateJTI() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
