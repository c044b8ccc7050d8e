package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// NewPGStore constructs a Postgres-backed audit store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, entry *Entry) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_log (id, actor, action, target, details, ts)
		values ($1, nullif($2, ''), $3, nullif($4, ''), $5, $6)
	`, entry.ID, entry.Actor, string(entry.Action), entry.Target, details, entry.Timestamp)
	return err
}

func (s *PGStore) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	filter = filter.normalized()
	offset := (filter.Page - 1) * filter.Limit

	rows, err := s.db.QueryContext(ctx, `
		select id, coalesce(actor, ''), action, coalesce(target, ''), details, ts
		from audit_log
		where ($1 = '' or actor ilike '%' || $1 || '%' or action ilike '%' || $1 || '%' or target ilike '%' || $1 || '%')
		  and ($2 = '' or action = $2)
		order by ts desc, id desc
		limit $3 offset $4
	`, filter.Search, string(filter.Action), filter.Limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		var (
			e       Entry
			action  string
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.Actor, &action, &e.Target, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		e.Details = map[string]string{}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
