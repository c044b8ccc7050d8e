// Package mfa wraps TOTP secret provisioning and time-window verification
// for the multi-factor step of login.
package mfa

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// secretSize is raw entropy in bytes before base32 encoding.
	secretSize = 20
	period     = 30
	// skew accepts one time step either side of server time, absorbing
	// client clock drift without extending the 30-second validity much.
	skew   = 1
	qrSize = 256
)

// Engine generates and verifies TOTP credentials.
type Engine struct {
	issuer string
	now    func() time.Time
}

// Option configures Engine behavior.
type Option func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// New constructs an Engine. The issuer appears in authenticator apps next
// to the account label.
func New(issuer string, opts ...Option) (*Engine, error) {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("mfa: issuer is required")
	}
	e := &Engine{issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ProvisionedSecret is a freshly generated shared secret plus its
// provisioning URI.
type ProvisionedSecret struct {
	Secret string // base32-encoded
	URI    string // otpauth://
	key    *otp.Key
}

// GenerateSecret mints a new shared secret labeled with the given account,
// typically the user's email.
func (e *Engine) GenerateSecret(account string) (*ProvisionedSecret, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, errors.New("mfa: account label is required")
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: account,
		SecretSize:  secretSize,
		Period:      period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}
	return &ProvisionedSecret{Secret: key.Secret(), URI: key.URL(), key: key}, nil
}

// QRDataURL renders the provisioning URI as a PNG QR code wrapped in a
// data URL, ready for an <img> tag.
func (p *ProvisionedSecret) QRDataURL() (string, error) {
	img, err := p.key.Image(qrSize, qrSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Verify reports whether the submitted 6-digit code matches the secret at
// the current server time.
func (e *Engine) Verify(secret, code string) bool {
	return e.VerifyAt(secret, code, e.now())
}

// VerifyAt is Verify against an explicit time.
func (e *Engine) VerifyAt(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
