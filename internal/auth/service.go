package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"campusiam.org/internal/audit"
	"campusiam.org/internal/mfa"
	"campusiam.org/internal/notify"
	"campusiam.org/internal/obs"
)

const (
	defaultResetTTL       = time.Hour
	defaultRootAdminEmail = "admin@college.local"
	defaultResetLinkBase  = "http://localhost:3000"
)

// Service orchestrates registration, login, token refresh, MFA lifecycle,
// password reset and the admin account operations. It composes the user
// store, token service, MFA engine, audit recorder and notifier.
type Service struct {
	users    UserStore
	tokens   *TokenService
	mfa      *mfa.Engine
	recorder *audit.Recorder
	notifier notify.Notifier

	rootAdminEmail string
	resetTTL       time.Duration
	resetLinkBase  string
	now            func() time.Time

	// Concurrent refreshes presenting the same cookie share one
	// verification and store lookup.
	refreshGroup singleflight.Group
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithNotifier sets the password-reset notifier.
func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

// WithRootAdminEmail overrides the protected root-admin address.
func WithRootAdminEmail(email string) ServiceOption {
	return func(s *Service) error {
		email = NormalizeEmail(email)
		if email != "" {
			s.rootAdminEmail = email
		}
		return nil
	}
}

// WithResetTTL overrides the reset-token validity window.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.resetTTL = ttl
		}
		return nil
	}
}

// WithResetLinkBase sets the frontend origin used in reset links.
func WithResetLinkBase(base string) ServiceOption {
	return func(s *Service) error {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base != "" {
			s.resetLinkBase = base
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the auth service.
func NewService(users UserStore, tokens *TokenService, engine *mfa.Engine, recorder *audit.Recorder, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	if engine == nil {
		return nil, errors.New("auth: mfa engine is required")
	}
	if recorder == nil {
		return nil, errors.New("auth: audit recorder is required")
	}
	s := &Service{
		users:          users,
		tokens:         tokens,
		mfa:            engine,
		recorder:       recorder,
		notifier:       notify.ConsoleMailer{},
		rootAdminEmail: defaultRootAdminEmail,
		resetTTL:       defaultResetTTL,
		resetLinkBase:  defaultResetLinkBase,
		now:            time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Tokens exposes the token service for the HTTP authentication gate.
func (s *Service) Tokens() *TokenService { return s.tokens }

// RootAdminEmail returns the protected root-admin address.
func (s *Service) RootAdminEmail() string { return s.rootAdminEmail }

// Register creates a new account. Role defaults to student.
func (s *Service) Register(ctx context.Context, name, email, password, roleRaw string) (PublicUser, error) {
	name = strings.TrimSpace(name)
	email = NormalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return PublicUser{}, fmt.Errorf("%w: name, email and password are required", ErrInvalidInput)
	}
	role, err := ParseRole(roleRaw)
	if err != nil {
		return PublicUser{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return PublicUser{}, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		MFA:          MFAState{Status: MFADisabled},
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return PublicUser{}, err
	}
	s.recorder.Record(ctx, u.Email, audit.ActionRegister, u.ID, nil)
	return u.Public(), nil
}

// LoginResult carries both tokens. The refresh token travels only in an
// http-only cookie; the HTTP layer must never echo it in a JSON body.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         PublicUser
}

// Login verifies credentials and, when the account has MFA enabled, the
// submitted TOTP code.
func (s *Service) Login(ctx context.Context, email, password, totpCode string) (LoginResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if u.Disabled {
		return LoginResult{}, ErrAccountDisabled
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		s.recorder.Record(ctx, email, audit.ActionLoginFailed, "", map[string]string{"reason": "bad_password"})
		return LoginResult{}, ErrInvalidCredentials
	}
	if u.MFA.Enabled() {
		if strings.TrimSpace(totpCode) == "" {
			return LoginResult{}, ErrMFARequired
		}
		if !s.mfa.Verify(u.MFA.Secret, totpCode) {
			s.recorder.Record(ctx, u.Email, audit.ActionMFAFailed, u.ID, nil)
			return LoginResult{}, ErrInvalidMFAToken
		}
	}
	access, err := s.tokens.IssueAccess(u)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefresh(u)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue refresh token: %w", err)
	}
	s.recorder.Record(ctx, u.Email, audit.ActionLogin, u.ID, nil)
	return LoginResult{AccessToken: access, RefreshToken: refresh, User: u.Public()}, nil
}

// RefreshResult is a fresh access token plus the current profile.
type RefreshResult struct {
	AccessToken string
	User        PublicUser
}

// Refresh exchanges a valid refresh token for a new access token. The
// refresh token itself is not rotated; it stays valid for its full life.
// The disabled flag is re-checked on every refresh, which is the only
// revocation point short of rotating the signing secret.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return RefreshResult{}, ErrNoToken
	}
	// The winning caller's ctx serves the whole flight; acceptable because
	// the work is a single short store read.
	v, err, _ := s.refreshGroup.Do(refreshToken, func() (any, error) {
		return s.refreshOnce(ctx, refreshToken)
	})
	if err != nil {
		return RefreshResult{}, err
	}
	return v.(RefreshResult), nil
}

func (s *Service) refreshOnce(ctx context.Context, refreshToken string) (RefreshResult, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return RefreshResult{}, ErrInvalidToken
	}
	u, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RefreshResult{}, ErrNotFound
		}
		return RefreshResult{}, err
	}
	if u.Disabled {
		return RefreshResult{}, ErrAccountDisabled
	}
	access, err := s.tokens.IssueAccess(u)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("issue access token: %w", err)
	}
	return RefreshResult{AccessToken: access, User: u.Public()}, nil
}

// MFASetup is the provisioning payload returned to the user.
type MFASetup struct {
	QR     string `json:"qr"`
	Secret string `json:"secret"`
}

// SetupMFA generates and stores a pending secret. The account is not yet
// MFA-protected: enforcement gates on the enabled status, which only
// VerifyMFA sets. Calling again overwrites the pending secret.
func (s *Service) SetupMFA(ctx context.Context, userID string) (MFASetup, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return MFASetup{}, err
	}
	secret, err := s.mfa.GenerateSecret(u.Email)
	if err != nil {
		return MFASetup{}, fmt.Errorf("generate mfa secret: %w", err)
	}
	qr, err := secret.QRDataURL()
	if err != nil {
		return MFASetup{}, fmt.Errorf("render provisioning qr: %w", err)
	}
	u.MFA = MFAState{Status: MFAPending, Secret: secret.Secret}
	if err := s.users.Update(ctx, u); err != nil {
		return MFASetup{}, err
	}
	return MFASetup{QR: qr, Secret: secret.Secret}, nil
}

// VerifyMFA confirms the pending secret and flips the account to enabled.
func (s *Service) VerifyMFA(ctx context.Context, userID, code string) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.MFA.Secret == "" {
		return ErrMFANotInitiated
	}
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	if !s.mfa.Verify(u.MFA.Secret, code) {
		return ErrInvalidMFAToken
	}
	u.MFA.Status = MFAEnabled
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.recorder.Record(ctx, u.Email, audit.ActionMFAEnabled, u.ID, nil)
	return nil
}

// RequestPasswordReset mints a one-time token and mails a reset link.
// It reports success whether or not the account exists, so callers cannot
// probe for registered addresses.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	token := uuid.NewString()
	u.ResetToken = token
	u.ResetExpiry = s.now().UTC().Add(s.resetTTL)
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	link := fmt.Sprintf("%s/reset-password?token=%s&email=%s", s.resetLinkBase, token, url.QueryEscape(u.Email))
	if err := s.notifier.Send(u.Email, link); err != nil {
		// Surfacing the failure would reveal that the account exists.
		obs.LogError("reset notification failed", map[string]any{"error": err.Error()})
	}
	s.recorder.Record(ctx, u.Email, audit.ActionPasswordResetRequested, u.ID, nil)
	return nil
}

// ResetPassword replaces the password when the email+token pair matches an
// unexpired reset token.
func (s *Service) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	email = NormalizeEmail(email)
	if email == "" || token == "" || newPassword == "" {
		return fmt.Errorf("%w: email, token and newPassword are required", ErrInvalidInput)
	}
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	if u.ResetToken == "" || subtle.ConstantTimeCompare([]byte(u.ResetToken), []byte(token)) != 1 {
		return ErrInvalidResetToken
	}
	if u.ResetExpiry.IsZero() || u.ResetExpiry.Before(s.now().UTC()) {
		return ErrInvalidResetToken
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = hash
	u.ResetToken = ""
	u.ResetExpiry = time.Time{}
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.recorder.Record(ctx, u.Email, audit.ActionPasswordReset, u.ID, nil)
	return nil
}

// ListUsers returns public profiles matching the filter. Password and reset
// fields are stripped by construction.
func (s *Service) ListUsers(ctx context.Context, filter ListFilter) ([]PublicUser, error) {
	users, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out, nil
}

// Logs returns audit entries newest-first.
func (s *Service) Logs(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	return s.recorder.Query(ctx, filter)
}

// findMutableTarget loads an admin-operation target and applies the
// root-admin guard in one place, ahead of any business logic.
func (s *Service) findMutableTarget(ctx context.Context, userID string) (*User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if NormalizeEmail(u.Email) == s.rootAdminEmail {
		return nil, ErrRootAdmin
	}
	return u, nil
}

// ChangeRole sets the target's role.
func (s *Service) ChangeRole(ctx context.Context, actor Principal, userID, roleRaw string) error {
	if strings.TrimSpace(roleRaw) == "" {
		return fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	role, err := ParseRole(roleRaw)
	if err != nil {
		return err
	}
	u, err := s.findMutableTarget(ctx, userID)
	if err != nil {
		return err
	}
	previous := u.Role
	u.Role = role
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.recorder.Record(ctx, actor.ID, audit.ActionChangeRole, u.ID, map[string]string{
		"from": string(previous),
		"to":   string(role),
	})
	return nil
}

// DisableUser blocks the target from logging in or refreshing.
func (s *Service) DisableUser(ctx context.Context, actor Principal, userID string) error {
	u, err := s.findMutableTarget(ctx, userID)
	if err != nil {
		return err
	}
	u.Disabled = true
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.recorder.Record(ctx, actor.ID, audit.ActionDisableUser, u.ID, nil)
	return nil
}

// EnableUser lifts the disabled flag.
func (s *Service) EnableUser(ctx context.Context, actor Principal, userID string) error {
	u, err := s.findMutableTarget(ctx, userID)
	if err != nil {
		return err
	}
	u.Disabled = false
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.recorder.Record(ctx, actor.ID, audit.ActionEnableUser, u.ID, nil)
	return nil
}

// DeleteUser removes the account permanently.
func (s *Service) DeleteUser(ctx context.Context, actor Principal, userID string) error {
	u, err := s.findMutableTarget(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.users.Delete(ctx, u.ID); err != nil {
		return err
	}
	s.recorder.Record(ctx, actor.ID, audit.ActionDeleteUser, u.ID, nil)
	return nil
}

// EnsureRootAdmin seeds the protected admin account when absent. Reports
// whether a new account was created.
func (s *Service) EnsureRootAdmin(ctx context.Context, name, password string) (bool, error) {
	if password == "" {
		return false, fmt.Errorf("%w: seed password is required", ErrInvalidInput)
	}
	if name == "" {
		name = "Portal Admin"
	}
	_, err := s.users.FindByEmail(ctx, s.rootAdminEmail)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	u := &User{
		Name:         name,
		Email:        s.rootAdminEmail,
		PasswordHash: hash,
		Role:         RoleAdmin,
		MFA:          MFAState{Status: MFADisabled},
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return false, err
	}
	return true, nil
}
