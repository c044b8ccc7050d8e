package auth

import (
	"context"
	"strings"
)

// ListFilter narrows and pages a user listing. Search matches
// case-insensitively against name and email.
type ListFilter struct {
	Search string
	Page   int
	Limit  int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f ListFilter) normalized() ListFilter {
	f.Search = strings.TrimSpace(f.Search)
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return f
}

// UserStore describes persistence operations required by the auth subsystem.
// Email lookups are case-insensitive; implementations receive emails already
// normalized to lowercase.
type UserStore interface {
	// Create persists a new user. Returns ErrEmailTaken when the email is
	// already registered.
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// Update replaces the stored record identified by u.ID.
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ListFilter) ([]*User, error)
}
