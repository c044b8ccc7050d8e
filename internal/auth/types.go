package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the coarse access level of an account.
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
)

// ParseRole validates and normalizes a role string. Empty input defaults
// to student.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	switch role {
	case "":
		return RoleStudent, nil
	case RoleStudent, RoleFaculty, RoleAdmin:
		return role, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
}

// MFAStatus is the explicit multi-factor state of an account. Modeling the
// status separately from the secret rules out enabled-without-secret.
type MFAStatus string

const (
	MFADisabled MFAStatus = "disabled"
	MFAPending  MFAStatus = "pending"
	MFAEnabled  MFAStatus = "enabled"
)

// MFAState pairs the status with the shared TOTP secret. Secret is non-empty
// exactly when the status is pending or enabled.
type MFAState struct {
	Status MFAStatus
	Secret string
}

// Enabled reports whether logins must present a TOTP code.
func (m MFAState) Enabled() bool { return m.Status == MFAEnabled }

// Pending reports whether setup was started but never verified. Login still
// proceeds on password alone in this state.
func (m MFAState) Pending() bool { return m.Status == MFAPending }

// User is an identity plus credential record.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Disabled     bool
	MFA          MFAState
	ResetToken   string
	ResetExpiry  time.Time
	CreatedAt    time.Time
}

// PublicUser is the profile shape returned by the API. Password hash and
// reset fields never leave the service.
type PublicUser struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	MFAEnabled bool   `json:"mfaEnabled"`
}

// Public converts a stored user into its API profile.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		MFAEnabled: u.MFA.Enabled(),
	}
}

// NormalizeEmail lowercases and trims an email used as the login key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
