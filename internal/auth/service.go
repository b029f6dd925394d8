package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Service issues and verifies operator tokens for the administrative
// surface. Operators are configured at startup; there is no self-service
// registration.
type Service struct {
	secret    []byte
	tokenTTL  time.Duration
	operators map[string]string // username -> sha256 password hash (hex)
}

type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

func NewService(secret string, tokenTTL time.Duration, operators map[string]string) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		operators: operators,
	}
}

// HashPassword returns the hex sha256 digest operators are configured with.
func HashPassword(password string) string {
	hash := sha256.Sum256([]byte(password))
	return hex.EncodeToString(hash[:])
}

// Login checks credentials and returns a signed token.
func (s *Service) Login(username, password string) (string, error) {
	storedHash, ok := s.operators[username]
	if !ok {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(HashPassword(password)), []byte(storedHash)) != 1 {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := &Claims{
		Operator: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// VerifyToken parses and validates a token, accepting an optional
// "Bearer " prefix.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
