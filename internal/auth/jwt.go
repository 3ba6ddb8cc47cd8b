package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "word-battle"

type Claims struct {
	UserID string `json:"uid"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies access tokens. It is the identity provider of the
// API: a verified token resolves to a stable user id.
type Service struct {
	secret []byte
	now    func() time.Time
}

func NewService(secret []byte) *Service {
	return &Service{secret: secret, now: time.Now}
}

func (s *Service) Sign(userID string, ttl time.Duration) (string, error) {
	return s.SignWithName(userID, "", ttl)
}

func (s *Service) SignWithName(userID, name string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: empty user id")
	}
	now := s.now()
	claims := Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

func (s *Service) Verify(token string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
