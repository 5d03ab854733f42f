package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Mode distinguishes long-lived offline grants from per-user online grants.
type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// Session is one authorization grant for one tenant domain.
type Session struct {
	ID          string
	Shop        string
	Mode        Mode
	AccessToken string
	Scope       []string
	// Expires is required for online sessions.
	Expires   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOnline reports whether this is a per-user grant.
func (s *Session) IsOnline() bool { return s.Mode == ModeOnline }

// SessionID derives the canonical session id for (domain, mode).
func SessionID(domain string, mode Mode) string {
	if mode == ModeOnline {
		return domain + "_online"
	}
	return "offline_" + domain
}

type sessionRow struct {
	ID          string         `db:"id"`
	Shop        string         `db:"shop"`
	IsOnline    int            `db:"is_online"`
	AccessToken string         `db:"access_token"`
	Scope       string         `db:"scope"`
	Expires     sql.NullString `db:"expires"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
}

// GetSession loads the session for (domain, mode). Returns ErrSessionNotFound
// when no row exists.
func (s *Store) GetSession(ctx context.Context, domain string, mode Mode) (*Session, error) {
	domain = s.Normalize(domain)
	if domain == "" {
		return nil, ErrEmptyDomain
	}
	if mode != ModeOffline && mode != ModeOnline {
		return nil, ErrUnknownSessionKey
	}

	var row sessionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
SELECT id, shop, is_online, access_token, scope, expires, created_at, updated_at
FROM sessions
WHERE id = ?;
`), SessionID(domain, mode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return row.session(), nil
}

// UpsertSession inserts or replaces the session keyed on (shop, mode).
// Last write wins on access_token, scope and expires; created_at is preserved.
func (s *Store) UpsertSession(ctx context.Context, sess *Session) error {
	if sess == nil {
		return fmt.Errorf("session is nil")
	}
	shop := s.Normalize(sess.Shop)
	if shop == "" {
		return ErrEmptyDomain
	}
	if sess.AccessToken == "" {
		return ErrEmptyAccessToken
	}
	mode := sess.Mode
	if mode == "" {
		mode = ModeOffline
	}
	if mode == ModeOnline && sess.Expires == nil {
		return ErrOnlineWithoutExp
	}

	var expires any
	if sess.Expires != nil {
		expires = sess.Expires.UTC().Format(time.RFC3339Nano)
	}
	online := 0
	if mode == ModeOnline {
		online = 1
	}

	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
INSERT INTO sessions(id, shop, is_online, access_token, scope, expires, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  access_token = excluded.access_token,
  scope = excluded.scope,
  expires = excluded.expires,
  updated_at = excluded.updated_at;
`), SessionID(shop, mode), shop, online, sess.AccessToken, joinScope(sess.Scope), expires, now, now)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	sess.ID = SessionID(shop, mode)
	sess.Shop = shop
	sess.Mode = mode
	return nil
}

func (r sessionRow) session() *Session {
	sess := &Session{
		ID:          r.ID,
		Shop:        r.Shop,
		Mode:        ModeOffline,
		AccessToken: r.AccessToken,
		Scope:       splitScope(r.Scope),
		CreatedAt:   parseTime(r.CreatedAt),
		UpdatedAt:   parseTime(r.UpdatedAt),
	}
	if r.IsOnline != 0 {
		sess.Mode = ModeOnline
	}
	if r.Expires.Valid {
		t := parseTime(r.Expires.String)
		sess.Expires = &t
	}
	return sess
}
