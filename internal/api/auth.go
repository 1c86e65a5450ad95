package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

// TokenTTL is the lifetime of issued admin tokens.
const TokenTTL = 24 * time.Hour

const (
	tokenIssuer  = "shoppipe"
	subjectKey   = "adminSubject"
	bearerPrefix = "Bearer "
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// SignToken issues an HS256 token for subject.
func SignToken(secret []byte, subject string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates raw and returns its subject.
func ParseToken(secret []byte, raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.Subject, nil
}

// authRequired rejects requests without a valid Bearer token.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			abortJSON(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		subject, err := ParseToken(s.jwtSecret, strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if err != nil {
			slog.Debug("Server.authRequired: token rejected", "error", err, "path", c.Request.URL.Path)
			abortJSON(c, http.StatusUnauthorized, ErrInvalidToken.Error())
			return
		}
		c.Set(subjectKey, subject)
		c.Next()
	}
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) checkCredentials(username, password string) error {
	if s.adminUser == "" || len(s.adminHash) == 0 || username != s.adminUser {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.adminHash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *Server) tokenHandler(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.checkCredentials(req.Username, req.Password); err != nil {
		slog.Warn("Server.tokenHandler: login failed", "username", req.Username, "ip", c.ClientIP())
		writeError(c, err)
		return
	}
	token, err := SignToken(s.jwtSecret, req.Username, TokenTTL, s.now())
	if err != nil {
		slog.Error("Server.tokenHandler: sign failed", "error", err)
		writeError(c, err)
		return
	}
	slog.Info("Server.tokenHandler: token issued", "username", req.Username)
	writeJSON(c, http.StatusOK, models.Success(gin.H{"token": token}))
}
