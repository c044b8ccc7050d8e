package mfa

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresIssuer(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)
}

func TestGenerateSecret(t *testing.T) {
	e, err := New("Campus IAM Test")
	require.NoError(t, err)

	p, err := e.GenerateSecret("alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, p.Secret)
	require.True(t, strings.HasPrefix(p.URI, "otpauth://totp/"))
	require.Contains(t, p.URI, "alice@example.com")

	qr, err := p.QRDataURL()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(qr, "data:image/png;base64,"))

	_, err = e.GenerateSecret("")
	require.Error(t, err)
}

func TestVerifyAcceptsOneStepOfDrift(t *testing.T) {
	e, err := New("Campus IAM Test")
	require.NoError(t, err)

	p, err := e.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)
	code, err := totp.GenerateCode(p.Secret, at)
	require.NoError(t, err)

	require.True(t, e.VerifyAt(p.Secret, code, at))
	require.True(t, e.VerifyAt(p.Secret, code, at.Add(30*time.Second)))
	require.True(t, e.VerifyAt(p.Secret, code, at.Add(-30*time.Second)))
	require.False(t, e.VerifyAt(p.Secret, code, at.Add(90*time.Second)))
	require.False(t, e.VerifyAt(p.Secret, code, at.Add(-90*time.Second)))
}

func TestVerifyRejectsBadInput(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e, err := New("Campus IAM Test", WithClock(func() time.Time { return at }))
	require.NoError(t, err)

	p, err := e.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	require.False(t, e.Verify(p.Secret, ""))
	require.False(t, e.Verify("", "123456"))
	require.False(t, e.Verify(p.Secret, "000000"))

	code, err := totp.GenerateCode(p.Secret, at)
	require.NoError(t, err)
	require.True(t, e.Verify(p.Secret, code))
}
