// Package auth implements registration, login and JWT issuance.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/saficlean/marketplace/internal/app/domain/user"
	"github.com/saficlean/marketplace/internal/app/storage"
	apperr "github.com/saficlean/marketplace/internal/errors"
	"github.com/saficlean/marketplace/pkg/logger"
)

// Token types embedded in claims so an access token can never be replayed as
// a refresh token.
const (
	TokenAccess        = "access"
	TokenRefresh       = "refresh"
	TokenEmailVerify   = "email_verify"
	TokenPasswordReset = "password_reset"
)

// Purpose-bound token lifetimes.
const (
	emailVerifyTTL   = 24 * time.Hour
	passwordResetTTL = time.Hour
)

// Claims is the JWT payload for all issued tokens.
type Claims struct {
	UserID    string `json:"uid"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Config tunes token lifetimes.
type Config struct {
	SecretKey        string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	MinPasswordChars int
}

// Service handles account registration and token lifecycle.
type Service struct {
	users storage.UserStore
	cfg   Config
	log   *logger.Logger
	now   func() time.Time
}

// New creates the auth service.
func New(users storage.UserStore, cfg Config, log *logger.Logger) *Service {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 30 * time.Minute
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if cfg.MinPasswordChars <= 0 {
		cfg.MinPasswordChars = 8
	}
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Service{users: users, cfg: cfg, log: log, now: time.Now}
}

// RegisterInput is the payload for a new account.
type RegisterInput struct {
	Email       string
	Password    string
	FullName    string
	PhoneNumber string
	Type        user.Type
	HourlyRate  float64
	Bio         string
}

var phonePattern = regexp.MustCompile(`^(?:\+?254|0)(7|1)\d{8}$`)

// NormalizePhone converts Kenyan phone formats to canonical 254XXXXXXXXX.
func NormalizePhone(phone string) (string, error) {
	p := strings.TrimSpace(phone)
	p = strings.ReplaceAll(p, " ", "")
	if !phonePattern.MatchString(p) {
		return "", apperr.Validation("phone number must be a valid Kenyan number")
	}
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, "0") {
		p = "254" + p[1:]
	}
	if !strings.HasPrefix(p, "254") {
		p = "254" + p
	}
	return p, nil
}

// Register creates an account with a hashed password.
func (s *Service) Register(ctx context.Context, in RegisterInput) (user.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return user.User{}, apperr.Validation("a valid email is required")
	}
	if len(in.Password) < s.cfg.MinPasswordChars {
		return user.User{}, apperr.Validation(
			fmt.Sprintf("password must be at least %d characters", s.cfg.MinPasswordChars))
	}
	if !in.Type.Valid() || in.Type == user.TypeAdmin {
		return user.User{}, apperr.Validation("user_type must be client or cleaner")
	}
	if in.Type == user.TypeCleaner && in.HourlyRate <= 0 {
		return user.User{}, apperr.Validation("cleaners must set a positive hourly rate")
	}

	phone := ""
	if in.PhoneNumber != "" {
		normalized, err := NormalizePhone(in.PhoneNumber)
		if err != nil {
			return user.User{}, err
		}
		phone = normalized
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return user.User{}, apperr.Conflict("email already registered")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return user.User{}, apperr.Internal("lookup account", err)
	}
	if phone != "" {
		if _, err := s.users.GetUserByPhone(ctx, phone); err == nil {
			return user.User{}, apperr.Conflict("phone number already registered")
		} else if !errors.Is(err, storage.ErrNotFound) {
			return user.User{}, apperr.Internal("lookup account", err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, apperr.Internal("hash password", err)
	}

	created, err := s.users.CreateUser(ctx, user.User{
		Email:          email,
		HashedPassword: string(hash),
		FullName:       strings.TrimSpace(in.FullName),
		PhoneNumber:    phone,
		Type:           in.Type,
		Active:         true,
		HourlyRate:     in.HourlyRate,
		Bio:            in.Bio,
	})
	if err != nil {
		return user.User{}, apperr.Internal("create account", err)
	}

	s.log.WithFields(map[string]interface{}{
		"user_id": created.ID,
		"type":    created.Type,
	}).Info("account registered")
	return created, nil
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Login verifies credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, user.User, error) {
	u, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, storage.ErrNotFound) {
		return TokenPair{}, user.User{}, apperr.Unauthorized("invalid email or password")
	}
	if err != nil {
		return TokenPair{}, user.User{}, apperr.Internal("lookup account", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)) != nil {
		return TokenPair{}, user.User{}, apperr.Unauthorized("invalid email or password")
	}
	if !u.Active {
		return TokenPair{}, user.User{}, apperr.Forbidden("account is deactivated")
	}

	pair, err := s.issuePair(u)
	if err != nil {
		return TokenPair{}, user.User{}, err
	}

	u.LastLogin = s.now().UTC()
	if updated, err := s.users.UpdateUser(ctx, u); err != nil {
		s.log.WithError(err).Warn("failed to record last login")
	} else {
		u = updated
	}
	return pair, u, nil
}

// Refresh exchanges a valid refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.verify(refreshToken, TokenRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	u, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		return TokenPair{}, apperr.InvalidToken(err)
	}
	if !u.Active {
		return TokenPair{}, apperr.Forbidden("account is deactivated")
	}
	return s.issuePair(u)
}

// VerifyAccessToken validates an access token and returns its claims.
func (s *Service) VerifyAccessToken(token string) (*Claims, error) {
	return s.verify(token, TokenAccess)
}

// VerifySubject validates an access token and returns its subject and role.
// This is the surface the auth middleware consumes.
func (s *Service) VerifySubject(token string) (string, string, error) {
	claims, err := s.verify(token, TokenAccess)
	if err != nil {
		return "", "", err
	}
	return claims.UserID, claims.Role, nil
}

// CurrentUser loads the account behind a verified access token.
func (s *Service) CurrentUser(ctx context.Context, userID string) (user.User, error) {
	u, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return user.User{}, apperr.NotFound("user")
	}
	if err != nil {
		return user.User{}, apperr.Internal("lookup account", err)
	}
	return u, nil
}

// UpdateFCMToken stores the device push token for the user.
func (s *Service) UpdateFCMToken(ctx context.Context, userID, token string) error {
	u, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("user")
	}
	if err != nil {
		return apperr.Internal("lookup account", err)
	}
	u.FCMToken = token
	if _, err := s.users.UpdateUser(ctx, u); err != nil {
		return apperr.Internal("update account", err)
	}
	return nil
}

// UpdateProfileInput carries profile changes. Empty strings leave the field
// unchanged; HourlyRate applies only when positive.
type UpdateProfileInput struct {
	FullName    string
	PhoneNumber string
	Bio         string
	HourlyRate  float64
}

// UpdateProfile applies partial profile changes for the user.
func (s *Service) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (user.User, error) {
	u, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return user.User{}, apperr.NotFound("user")
	}
	if err != nil {
		return user.User{}, apperr.Internal("lookup account", err)
	}

	if name := strings.TrimSpace(in.FullName); name != "" {
		u.FullName = name
	}
	if in.Bio != "" {
		u.Bio = in.Bio
	}
	if in.HourlyRate > 0 {
		if u.Type != user.TypeCleaner {
			return user.User{}, apperr.Validation("only cleaners have an hourly rate")
		}
		u.HourlyRate = in.HourlyRate
	}
	if in.PhoneNumber != "" {
		phone, err := NormalizePhone(in.PhoneNumber)
		if err != nil {
			return user.User{}, err
		}
		if phone != u.PhoneNumber {
			if existing, err := s.users.GetUserByPhone(ctx, phone); err == nil && existing.ID != u.ID {
				return user.User{}, apperr.Conflict("phone number already registered")
			} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return user.User{}, apperr.Internal("lookup account", err)
			}
			u.PhoneNumber = phone
		}
	}

	updated, err := s.users.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, apperr.Internal("update account", err)
	}
	return updated, nil
}

// VerifyCleaner marks a cleaner as vetted. Callers enforce the admin role.
func (s *Service) VerifyCleaner(ctx context.Context, cleanerID string) (user.User, error) {
	u, err := s.users.GetUser(ctx, cleanerID)
	if errors.Is(err, storage.ErrNotFound) {
		return user.User{}, apperr.NotFound("user")
	}
	if err != nil {
		return user.User{}, apperr.Internal("lookup account", err)
	}
	if u.Type != user.TypeCleaner {
		return user.User{}, apperr.BusinessRule("only cleaners can be verified")
	}
	if u.Verified {
		return u, nil
	}
	u.Verified = true
	updated, err := s.users.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, apperr.Internal("update account", err)
	}
	s.log.WithField("user_id", updated.ID).Info("cleaner verified")
	return updated, nil
}

// IssueEmailVerification creates a 24h token proving ownership of the
// account's email address. Delivery is the caller's concern.
func (s *Service) IssueEmailVerification(ctx context.Context, userID string) (string, error) {
	u, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", apperr.NotFound("user")
	}
	if err != nil {
		return "", apperr.Internal("lookup account", err)
	}
	token, err := s.sign(u, TokenEmailVerify, emailVerifyTTL)
	if err != nil {
		return "", apperr.Internal("sign token", err)
	}
	return token, nil
}

// ConfirmEmail redeems a verification token, marking the account verified.
func (s *Service) ConfirmEmail(ctx context.Context, token string) (user.User, error) {
	claims, err := s.verify(token, TokenEmailVerify)
	if err != nil {
		return user.User{}, err
	}
	u, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		return user.User{}, apperr.InvalidToken(err)
	}
	if u.Verified {
		return u, nil
	}
	u.Verified = true
	updated, err := s.users.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, apperr.Internal("update account", err)
	}
	return updated, nil
}

// IssuePasswordReset creates a one-hour reset token for the account behind
// the email. Callers mask the not-found case toward anonymous clients.
func (s *Service) IssuePasswordReset(ctx context.Context, email string) (user.User, string, error) {
	u, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, storage.ErrNotFound) {
		return user.User{}, "", apperr.NotFound("user")
	}
	if err != nil {
		return user.User{}, "", apperr.Internal("lookup account", err)
	}
	token, err := s.sign(u, TokenPasswordReset, passwordResetTTL)
	if err != nil {
		return user.User{}, "", apperr.Internal("sign token", err)
	}
	return u, token, nil
}

// ResetPassword redeems a reset token and stores the new password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.verify(token, TokenPasswordReset)
	if err != nil {
		return err
	}
	if len(newPassword) < s.cfg.MinPasswordChars {
		return apperr.Validation(
			fmt.Sprintf("password must be at least %d characters", s.cfg.MinPasswordChars))
	}
	u, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		return apperr.InvalidToken(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return apperr.Internal("hash password", err)
	}
	u.HashedPassword = string(hash)
	if _, err := s.users.UpdateUser(ctx, u); err != nil {
		return apperr.Internal("update account", err)
	}
	s.log.WithField("user_id", u.ID).Info("password reset")
	return nil
}

func (s *Service) issuePair(u user.User) (TokenPair, error) {
	access, err := s.sign(u, TokenAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, apperr.Internal("sign token", err)
	}
	refresh, err := s.sign(u, TokenRefresh, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, apperr.Internal("sign token", err)
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

func (s *Service) sign(u user.User, tokenType string, ttl time.Duration) (string, error) {
	now := s.now().UTC()
	claims := Claims{
		UserID:    u.ID,
		Role:      string(u.Type),
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.SecretKey))
}

func (s *Service) verify(token, wantType string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.SecretKey), nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil || !parsed.Valid {
		return nil, apperr.InvalidToken(err)
	}
	if claims.TokenType != wantType {
		return nil, apperr.InvalidToken(fmt.Errorf("token type %q, want %q", claims.TokenType, wantType))
	}
	return claims, nil
}
