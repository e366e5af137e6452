package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres persists the three collections in a PostgreSQL database via
// a pgx connection pool. The schema is created lazily on construction.
type Postgres struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id          BIGSERIAL PRIMARY KEY,
	session_id  BIGINT NOT NULL,
	player_name TEXT NOT NULL,
	ip          TEXT NOT NULL,
	sent_at     TIMESTAMPTZ NOT NULL,
	message     TEXT NOT NULL,
	admin_token TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_chats_sent_at ON chats (sent_at);

CREATE TABLE IF NOT EXISTS admin_commands (
	id       BIGSERIAL PRIMARY KEY,
	token    TEXT NOT NULL,
	room_id  TEXT NOT NULL DEFAULT '',
	run_at   TIMESTAMPTZ NOT NULL,
	command  TEXT NOT NULL,
	args     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS ip_list (
	ip     TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
);
`

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) AppendChat(ctx context.Context, entry ChatEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO chats (session_id, player_name, ip, sent_at, message, admin_token)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		int64(entry.SessionID), entry.PlayerName, entry.IP, entry.Timestamp, entry.Message, entry.AdminToken,
	)
	if err != nil {
		return fmt.Errorf("append chat: %w", err)
	}
	return nil
}

func (p *Postgres) ChatsBetween(ctx context.Context, from, to time.Time) ([]ChatEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT session_id, player_name, ip, sent_at, message, admin_token
		 FROM chats WHERE sent_at >= $1 AND sent_at <= $2 ORDER BY sent_at`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var entries []ChatEntry
	for rows.Next() {
		var entry ChatEntry
		var sessionID int64
		if err := rows.Scan(&sessionID, &entry.PlayerName, &entry.IP, &entry.Timestamp, &entry.Message, &entry.AdminToken); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		entry.SessionID = uint32(sessionID)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (p *Postgres) PurgeChatsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM chats WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge chats: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) AppendAdminCommand(ctx context.Context, entry AdminEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO admin_commands (token, room_id, run_at, command, args)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.Token, entry.RoomID, entry.Timestamp, entry.Command, entry.Args,
	)
	if err != nil {
		return fmt.Errorf("append admin command: %w", err)
	}
	return nil
}

func (p *Postgres) AdminCommands(ctx context.Context) ([]AdminEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT token, room_id, run_at, command, args FROM admin_commands ORDER BY run_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("query admin commands: %w", err)
	}
	defer rows.Close()

	var entries []AdminEntry
	for rows.Next() {
		var entry AdminEntry
		if err := rows.Scan(&entry.Token, &entry.RoomID, &entry.Timestamp, &entry.Command, &entry.Args); err != nil {
			return nil, fmt.Errorf("scan admin command: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (p *Postgres) IPStatus(ctx context.Context, ip string) (IPEntry, bool, error) {
	var entry IPEntry
	err := p.pool.QueryRow(ctx,
		`SELECT ip, status, reason FROM ip_list WHERE ip = $1`, ip,
	).Scan(&entry.IP, &entry.Status, &entry.Reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return IPEntry{}, false, nil
	}
	if err != nil {
		return IPEntry{}, false, fmt.Errorf("query ip status: %w", err)
	}
	return entry, true, nil
}

func (p *Postgres) SetIPStatus(ctx context.Context, entry IPEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO ip_list (ip, status, reason) VALUES ($1, $2, $3)
		 ON CONFLICT (ip) DO UPDATE SET status = EXCLUDED.status, reason = EXCLUDED.reason`,
		entry.IP, entry.Status, entry.Reason,
	)
	if err != nil {
		return fmt.Errorf("set ip status: %w", err)
	}
	return nil
}

var _ Store = (*Postgres)(nil)
