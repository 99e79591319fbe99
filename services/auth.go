package services

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/smtp"
	"net/url"
	"sync"
	"time"

	"github.com/CrowderSoup/crm-board/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const (
	sessionTTL   = 7 * 24 * time.Hour
	magicLinkTTL = 15 * time.Minute
)

// ErrInvalidToken is returned for unknown, used or expired magic-link tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is who a session token belongs to.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

type pendingLink struct {
	email   string
	expires time.Time
}

type AuthService struct {
	mu         sync.Mutex
	tokens     map[string]pendingLink
	jwtSecret  []byte
	smtpConfig config.SMTPConfig
	now        func() time.Time
}

func NewAuthService(jwtSecret string, smtpConfig config.SMTPConfig) *AuthService {
	return &AuthService{
		tokens:     make(map[string]pendingLink),
		jwtSecret:  []byte(jwtSecret),
		smtpConfig: smtpConfig,
		now:        time.Now,
	}
}

// GenerateMagicLink creates a one-time token and email magic link
func (s *AuthService) GenerateMagicLink(email string, baseURL string) (string, error) {
	token, err := s.generateSecureToken(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.mu.Lock()
	s.tokens[token] = pendingLink{email: email, expires: s.now().Add(magicLinkTTL)}
	s.mu.Unlock()

	magicLink := fmt.Sprintf("%s/api/auth/magic-link?token=%s", baseURL, url.QueryEscape(token))

	// Send the email (if SMTP is configured)
	if s.smtpConfig.Host != "" {
		if err := s.sendMagicLinkEmail(email, magicLink); err != nil {
			log.Warn().Err(err).Str("email", email).Msg("failed to send magic link")
		}
	}

	// For development, return the magic link directly
	return magicLink, nil
}

// VerifyMagicLinkToken verifies a one-time token and returns the associated email
func (s *AuthService) VerifyMagicLinkToken(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, exists := s.tokens[token]
	if !exists {
		return "", ErrInvalidToken
	}

	// Remove the token (one-time use)
	delete(s.tokens, token)

	if s.now().After(link.expires) {
		return "", ErrInvalidToken
	}
	return link.email, nil
}

// CreateJWT generates a session token for id
func (s *AuthService) CreateJWT(id Identity) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   id.UserID,
		"email": id.Email,
		"name":  id.Name,
		"exp":   s.now().Add(sessionTTL).Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// VerifyJWT verifies a session token and returns its identity
func (s *AuthService) VerifyJWT(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return Identity{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errors.New("invalid token claims")
	}

	var id Identity
	if id.UserID, ok = claims["sub"].(string); !ok || id.UserID == "" {
		return Identity{}, errors.New("sub claim missing")
	}
	if id.Email, ok = claims["email"].(string); !ok {
		return Identity{}, errors.New("email claim missing")
	}
	id.Name, _ = claims["name"].(string)

	return id, nil
}

// Helper to generate a secure random token
func (s *AuthService) generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Helper to send a magic link email
func (s *AuthService) sendMagicLinkEmail(to, magicLink string) error {
	if s.smtpConfig.Host == "" || s.smtpConfig.Port == "" ||
		s.smtpConfig.Username == "" || s.smtpConfig.Password == "" {
		return errors.New("SMTP not fully configured")
	}

	auth := smtp.PlainAuth("", s.smtpConfig.Username, s.smtpConfig.Password, s.smtpConfig.Host)

	from := s.smtpConfig.From
	if from == "" {
		from = s.smtpConfig.Username
	}

	subject := "Your CRM sign-in link"
	body := fmt.Sprintf("Click the link below to sign in to the CRM board:\n\n%s\n\nThe link expires in %d minutes. If you didn't request it, you can safely ignore this email.",
		magicLink, int(magicLinkTTL.Minutes()))

	message := fmt.Sprintf("From: %s\nTo: %s\nSubject: %s\n\n%s", from, to, subject, body)

	addr := fmt.Sprintf("%s:%s", s.smtpConfig.Host, s.smtpConfig.Port)
	if err := smtp.SendMail(addr, auth, from, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}
