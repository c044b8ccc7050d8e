package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"campusiam.org/internal/ids"
	"campusiam.org/internal/obs"
)

// Action identifies a security-relevant event. The persisted representation
// stays a plain string for store portability; the closed set below catches
// typos at compile time.
type Action string

const (
	ActionRegister               Action = "register"
	ActionLogin                  Action = "login"
	ActionLoginFailed            Action = "login_failed"
	ActionMFAFailed              Action = "mfa_failed"
	ActionMFAEnabled             Action = "mfa_enabled"
	ActionPasswordResetRequested Action = "password_reset_requested"
	ActionPasswordReset          Action = "password_reset"
	ActionChangeRole             Action = "change_role"
	ActionDisableUser            Action = "disable_user"
	ActionEnableUser             Action = "enable_user"
	ActionDeleteUser             Action = "delete_user"
)

var knownActions = map[Action]struct{}{
	ActionRegister:               {},
	ActionLogin:                  {},
	ActionLoginFailed:            {},
	ActionMFAFailed:              {},
	ActionMFAEnabled:             {},
	ActionPasswordResetRequested: {},
	ActionPasswordReset:          {},
	ActionChangeRole:             {},
	ActionDisableUser:            {},
	ActionEnableUser:             {},
	ActionDeleteUser:             {},
}

// Valid reports whether the action belongs to the closed vocabulary.
func (a Action) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

// Entry is an immutable fact about a security event.
type Entry struct {
	ID        string            `json:"id"`
	Actor     string            `json:"actor,omitempty"`
	Action    Action            `json:"action"`
	Target    string            `json:"target,omitempty"`
	Details   map[string]string `json:"details"`
	Timestamp time.Time         `json:"timestamp"`
}

// Filter narrows a Query. Search matches case-insensitively against
// actor, action and target.
type Filter struct {
	Search string
	Action Action
	Page   int
	Limit  int
}

const (
	defaultQueryLimit = 200
	maxQueryLimit     = 1000
)

func (f Filter) normalized() Filter {
	f.Search = strings.TrimSpace(f.Search)
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultQueryLimit
	}
	if f.Limit > maxQueryLimit {
		f.Limit = maxQueryLimit
	}
	return f
}

// Store persists entries. Append-only: nothing in the core ever mutates or
// deletes an entry once written.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, filter Filter) ([]*Entry, error)
}

// Recorder appends audit entries on behalf of the auth operations.
type Recorder struct {
	store Store
	now   func() time.Time
}

// RecorderOption configures Recorder behavior.
type RecorderOption func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store Store, opts ...RecorderOption) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record appends an entry. It is fire-and-forget relative to the caller:
// a failed write is logged and swallowed so the primary operation's outcome
// is never masked by audit trouble.
func (r *Recorder) Record(ctx context.Context, actor string, action Action, target string, details map[string]string) {
	if !action.Valid() {
		obs.LogError("audit action outside vocabulary", map[string]any{"action": string(action)})
		return
	}
	if details == nil {
		details = map[string]string{}
	}
	entry := &Entry{
		ID:        ids.New(),
		Actor:     actor,
		Action:    action,
		Target:    target,
		Details:   details,
		Timestamp: r.now().UTC(),
	}
	obs.AuthEvent(string(action))
	if err := r.store.Append(ctx, entry); err != nil {
		obs.LogError("audit append failed", map[string]any{
			"action": string(action),
			"actor":  actor,
			"error":  err.Error(),
		})
	}
}

// Query returns entries newest-first.
func (r *Recorder) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	filter = filter.normalized()
	if filter.Action != "" && !filter.Action.Valid() {
		return nil, fmt.Errorf("unknown action %q", filter.Action)
	}
	return r.store.Query(ctx, filter)
}
