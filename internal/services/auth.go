package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/HammerMeetNail/quizduel/internal/models"
)

const tokenIssuer = "quizduel"

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
)

// Claims identify the caller. Name and avatar travel with the token so
// invites can be denormalized without a user lookup.
type Claims struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// AuthService issues and validates HS256 bearer tokens.
type AuthService struct {
	secretKey []byte
	now       func() time.Time
}

func NewAuthService(secretKey string) *AuthService {
	return &AuthService{
		secretKey: []byte(secretKey),
		now:       time.Now,
	}
}

func (s *AuthService) GenerateToken(user *models.User, ttl time.Duration) (string, error) {
	if user == nil || user.ID == "" {
		return "", ErrInvalidParticipant
	}
	now := s.now()
	claims := &Claims{
		Name:   user.Name,
		Avatar: user.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// ValidateToken checks the signature and expiry and returns the caller.
func (s *AuthService) ValidateToken(tokenString string) (*models.User, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	return &models.User{ID: claims.Subject, Name: claims.Name, Avatar: claims.Avatar}, nil
}
