package services

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/maieulabs/maieutic-backend/internal/platform/ctxutil"
	"github.com/maieulabs/maieutic-backend/internal/platform/envutil"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
)

type JWTClaims struct {
	jwt.RegisteredClaims
}

// AuthService is stateless bearer-token auth: tokens are HS256 JWTs whose
// subject is the user id. Token issuance for real users lives upstream; the
// console and tests use IssueToken directly.
type AuthService interface {
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	IssueToken(userID uuid.UUID) (string, error)
}

type authService struct {
	log       *logger.Logger
	secret    []byte
	accessTTL time.Duration
}

func NewAuthService(log *logger.Logger) (AuthService, error) {
	secret := envutil.GetEnv("JWT_SECRET", "", log)
	if secret == "" {
		return nil, fmt.Errorf("missing JWT_SECRET")
	}
	ttlHours := envutil.GetEnvAsInt("JWT_ACCESS_TTL_HOURS", 24, log)
	return &authService{
		log:       log.With("service", "AuthService"),
		secret:    []byte(secret),
		accessTTL: time.Duration(ttlHours) * time.Hour,
	}, nil
}

func (as *authService) IssueToken(userID uuid.UUID) (string, error) {
	if userID == uuid.Nil {
		return "", fmt.Errorf("missing user id")
	}
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(as.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(as.secret)
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString == "" {
		return ctx, fmt.Errorf("missing token")
	}
	parsedToken, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return as.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return ctx, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := parsedToken.Claims.(*JWTClaims)
	if !ok || !parsedToken.Valid {
		return ctx, fmt.Errorf("invalid or expired token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, fmt.Errorf("invalid user id in token: %w", err)
	}
	rd := &ctxutil.RequestData{UserID: userID}
	return ctxutil.WithRequestData(ctx, rd), nil
}
