package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/punchclock/engine/internal/channel"
	"github.com/punchclock/engine/internal/directory"
	"github.com/punchclock/engine/internal/payroll"
)

// Postgres is the write-behind journal backing the in-memory engine. All
// writes happen inside the engine's serialized section, so rows land in
// the same total order the engine applied them.
type Postgres struct {
	db *sql.DB
}

func New(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the journal tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS employees (
			identity            TEXT PRIMARY KEY,
			record_id           BIGINT NOT NULL,
			salary_per_second   NUMERIC NOT NULL,
			max_session_seconds BIGINT NOT NULL,
			employed            BOOLEAN NOT NULL,
			hired_at            TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id            UUID PRIMARY KEY,
			entry_type    TEXT NOT NULL,
			amount        NUMERIC NOT NULL,
			balance_after NUMERIC NOT NULL,
			reference     TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			id               UUID PRIMARY KEY,
			opener           TEXT NOT NULL,
			payee            TEXT NOT NULL,
			remainder_wallet TEXT NOT NULL,
			reserved         NUMERIC NOT NULL,
			expires_at       TIMESTAMPTZ NOT NULL,
			state            TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			channel_id  UUID PRIMARY KEY REFERENCES channels (id),
			identity    TEXT NOT NULL,
			reserve     NUMERIC NOT NULL,
			punch_in_at TIMESTAMPTZ NOT NULL,
			state       TEXT NOT NULL,
			closed_at   TIMESTAMPTZ
		)`,
	}

	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate journal schema: %w", err)
		}
	}
	return nil
}

// EmployeeRecorded upserts the directory record; a re-hire overwrites the
// row with the fresh record id and terms.
func (p *Postgres) EmployeeRecorded(ctx context.Context, rec directory.Record) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO employees (identity, record_id, salary_per_second, max_session_seconds, employed, hired_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (identity) DO UPDATE
		 SET record_id = $2, salary_per_second = $3, max_session_seconds = $4, employed = $5, hired_at = $6`,
		rec.Identity.String(), rec.ID, rec.SalaryPerSecond, rec.MaxSessionSeconds,
		rec.Employed, rec.HiredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record employee: %w", err)
	}
	return nil
}

// EntryRecorded appends one ledger journal row.
func (p *Postgres) EntryRecorded(ctx context.Context, entry payroll.Entry) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, entry_type, amount, balance_after, reference, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.Type, entry.Amount, entry.BalanceAfter, entry.Reference, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

// SessionOpened writes the channel and its session in one transaction.
func (p *Postgres) SessionOpened(ctx context.Context, sess payroll.SessionInfo) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO channels (id, opener, payee, remainder_wallet, reserved, expires_at, state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ChannelID, sess.Opener.String(), sess.Identity.String(),
		sess.RemainderWallet.String(), sess.Reserve, sess.ExpiresAt,
		channel.Open.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to record channel: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (channel_id, identity, reserve, punch_in_at, state)
		 VALUES ($1, $2, $3, $4, $5)`,
		sess.ChannelID, sess.Identity.String(), sess.Reserve, sess.PunchInAt,
		channel.Open.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// SessionClosed marks the session and its channel with the terminal state.
func (p *Postgres) SessionClosed(ctx context.Context, channelID uuid.UUID, outcome channel.State, closedAt time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE channels SET state = $1 WHERE id = $2`,
		outcome.String(), channelID,
	); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = $1, closed_at = $2 WHERE channel_id = $3`,
		outcome.String(), closedAt, channelID,
	); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
