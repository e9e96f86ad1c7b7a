package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	perrors "github.com/yungbote/autoforge-backend/internal/pkg/errors"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
)

const accessTokenTTL = 60 * time.Minute

// AuthService issues and verifies the admin JWT. There is a single
// credentialed principal ("admin"); everything else runs anonymous.
type AuthService interface {
	Login(username, password string) (string, error)
	UserIDFromToken(tokenString string) (string, error)
	AccessTTL() time.Duration
}

type authService struct {
	log           *logger.Logger
	jwtSecretKey  string
	adminPassHash []byte
}

func NewAuthService(log *logger.Logger, jwtSecretKey, adminPassword string) (AuthService, error) {
	serviceLog := log.With("service", "AuthService")
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	return &authService{
		log:           serviceLog,
		jwtSecretKey:  jwtSecretKey,
		adminPassHash: hash,
	}, nil
}

func (as *authService) Login(username, password string) (string, error) {
	if username != "admin" {
		return "", fmt.Errorf("%w: invalid credentials", perrors.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword(as.adminPassHash, []byte(password)); err != nil {
		return "", fmt.Errorf("%w: invalid credentials", perrors.ErrUnauthorized)
	}

	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(accessTokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(as.jwtSecretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// UserIDFromToken returns the subject of a valid token. Callers treat an
// empty token string as anonymous before reaching here.
func (as *authService) UserIDFromToken(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(as.jwtSecretKey), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", perrors.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: invalid token", perrors.ErrUnauthorized)
	}
	return claims.Subject, nil
}

func (as *authService) AccessTTL() time.Duration {
	return accessTokenTTL
}
