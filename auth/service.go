// Package auth resolves users from phone numbers, runs the OTP login flow and
// verifies bearer tokens.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"escrowflow/apperr"
)

var (
	ErrInvalidOTP      = apperr.New(apperr.KindUnauthorized, "auth.invalid_otp", errors.New("auth: invalid or expired otp"))
	ErrOTPRequired     = apperr.New(apperr.KindValidation, "auth.otp_required", errors.New("auth: otp required"))
	ErrTooManyAttempts = apperr.New(apperr.KindUnauthorized, "auth.otp_attempts_exceeded", errors.New("auth: too many otp attempts"))
	ErrInvalidToken    = apperr.New(apperr.KindUnauthorized, "auth.invalid_token", errors.New("auth: invalid token"))
)

const maxOTPAttempts = 5

// SMSSender delivers a one-time code. Delivery mechanics live outside this
// service.
type SMSSender interface {
	SendOTP(ctx context.Context, mobile, code string) error
}

type Service struct {
	repo      Repository
	otp       OTPStore
	sms       SMSSender
	jwtSecret []byte
	otpTTL    time.Duration
	tokenTTL  time.Duration
	now       func() time.Time
	genCode   func() (string, error)
}

type Options struct {
	OTPTTL   time.Duration
	TokenTTL time.Duration
}

// LoginResult bundles the token and user returned after a successful OTP check.
type LoginResult struct {
	Token string
	User  User
}

func NewService(repo Repository, otp OTPStore, sms SMSSender, jwtSecret string, opts Options) *Service {
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = 5 * time.Minute
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	return &Service{
		repo:      repo,
		otp:       otp,
		sms:       sms,
		jwtSecret: []byte(jwtSecret),
		otpTTL:    opts.OTPTTL,
		tokenTTL:  opts.TokenTTL,
		now:       time.Now,
		genCode:   sixDigits,
	}
}

// GetOrCreateUserID resolves contract parties by phone number.
func (s *Service) GetOrCreateUserID(ctx context.Context, name, mobile string) (int64, error) {
	if NormalizeMobile(mobile) == "" {
		return 0, ErrMobileRequired
	}
	id, err := s.repo.GetOrCreateUserID(ctx, name, mobile)
	if err != nil {
		return 0, apperr.Dependency("auth.identity_unavailable", err)
	}
	return id, nil
}

func (s *Service) DeviceTokens(ctx context.Context, ids []int64) (map[int64]string, error) {
	return s.repo.DeviceTokens(ctx, ids)
}

func (s *Service) SetDeviceToken(ctx context.Context, userID int64, token string) error {
	return s.repo.SetDeviceToken(ctx, userID, token)
}

// RequestOTP caches a bcrypt hash of a fresh code under the mobile and hands
// the clear code to the SMS sender. A new request replaces a pending code.
func (s *Service) RequestOTP(ctx context.Context, mobile string) error {
	mobile = NormalizeMobile(mobile)
	if mobile == "" {
		return ErrMobileRequired
	}
	code, err := s.genCode()
	if err != nil {
		return fmt.Errorf("auth: generate otp: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash otp: %w", err)
	}
	if err := s.otp.Put(ctx, mobile, OTPEntry{Hash: string(hash)}, s.otpTTL); err != nil {
		return apperr.Dependency("auth.otp_store_unavailable", err)
	}
	if err := s.sms.SendOTP(ctx, mobile, code); err != nil {
		return apperr.Dependency("auth.sms_unavailable", err)
	}
	return nil
}

// VerifyOTP consumes a pending code and issues a bearer token for the user
// owning mobile, creating the user on first login.
func (s *Service) VerifyOTP(ctx context.Context, mobile, code, name string) (LoginResult, error) {
	mobile = NormalizeMobile(mobile)
	if mobile == "" {
		return LoginResult{}, ErrMobileRequired
	}
	if code == "" {
		return LoginResult{}, ErrOTPRequired
	}

	entry, err := s.otp.Get(ctx, mobile)
	if err != nil {
		return LoginResult{}, apperr.Dependency("auth.otp_store_unavailable", err)
	}
	if entry == nil {
		return LoginResult{}, ErrInvalidOTP
	}
	if entry.Attempts >= maxOTPAttempts {
		_ = s.otp.Delete(ctx, mobile)
		return LoginResult{}, ErrTooManyAttempts
	}
	if bcrypt.CompareHashAndPassword([]byte(entry.Hash), []byte(code)) != nil {
		entry.Attempts++
		if err := s.otp.Touch(ctx, mobile, *entry); err != nil {
			return LoginResult{}, apperr.Dependency("auth.otp_store_unavailable", err)
		}
		return LoginResult{}, ErrInvalidOTP
	}
	if err := s.otp.Delete(ctx, mobile); err != nil {
		return LoginResult{}, apperr.Dependency("auth.otp_store_unavailable", err)
	}

	id, err := s.GetOrCreateUserID(ctx, name, mobile)
	if err != nil {
		return LoginResult{}, err
	}
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return LoginResult{}, err
	}
	token, err := s.IssueToken(user.ID, user.Role)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, User: user}, nil
}

// IssueToken signs an HS256 token carrying user_id and role.
func (s *Service) IssueToken(userID int64, role Role) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": strconv.FormatInt(userID, 10),
		"role":    string(role),
		"exp":     now.Add(s.tokenTTL).Unix(),
		"iat":     now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a bearer token and returns the actor it names.
func (s *Service) VerifyToken(tokenString string) (Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Actor{}, ErrInvalidToken
	}
	rawID, ok := claims["user_id"].(string)
	if !ok {
		return Actor{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || userID <= 0 {
		return Actor{}, fmt.Errorf("%w: bad user_id", ErrInvalidToken)
	}
	roleStr, _ := claims["role"].(string)
	role := Role(roleStr)
	if !role.Valid() {
		return Actor{}, fmt.Errorf("%w: role %q", ErrInvalidToken, roleStr)
	}
	return Actor{UserID: userID, Role: role}, nil
}

func sixDigits() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
