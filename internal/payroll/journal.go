package payroll

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchclock/engine/internal/channel"
	"github.com/punchclock/engine/internal/directory"
)

// Entry types recorded in the ledger journal.
const (
	EntryDeposit        = "deposit"
	EntryWithdrawal     = "withdrawal"
	EntrySettlement     = "settlement"
	EntryTimeoutRelease = "timeout_release"
)

// Entry is one append-only ledger journal row. A timeout release does not
// move the balance; it is journaled so the audit trail shows the
// reservation coming back.
type Entry struct {
	ID           uuid.UUID
	Type         string
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Reference    string
	CreatedAt    time.Time
}

// Journal is the optional write-behind durability mirror. The in-memory
// engine state is authoritative; journal writes happen inside the engine's
// serialized section so the journal observes the same total order, but a
// journal failure does not roll the operation back.
type Journal interface {
	EmployeeRecorded(ctx context.Context, rec directory.Record) error
	EntryRecorded(ctx context.Context, entry Entry) error
	SessionOpened(ctx context.Context, sess SessionInfo) error
	SessionClosed(ctx context.Context, channelID uuid.UUID, outcome channel.State, closedAt time.Time) error
}

func (e *Engine) recordEmployee(ctx context.Context, rec directory.Record) {
	if e.journal == nil {
		return
	}
	if err := e.journal.EmployeeRecorded(ctx, rec); err != nil {
		log.Printf("journal: employee write dropped: %v", err)
	}
}

func (e *Engine) recordEntry(ctx context.Context, entryType string, amount, balanceAfter decimal.Decimal, reference string) {
	if e.journal == nil {
		return
	}
	err := e.journal.EntryRecorded(ctx, Entry{
		ID:           uuid.New(),
		Type:         entryType,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Reference:    reference,
		CreatedAt:    e.now(),
	})
	if err != nil {
		log.Printf("journal: ledger entry write dropped: %v", err)
	}
}

func (e *Engine) recordSessionOpened(ctx context.Context, sess *Session) {
	if e.journal == nil {
		return
	}
	err := e.journal.SessionOpened(ctx, SessionInfo{
		Identity:        sess.Identity,
		Opener:          e.owner,
		RemainderWallet: e.owner,
		ChannelID:       sess.Channel.ID(),
		PunchInAt:       sess.PunchInAt,
		ExpiresAt:       sess.Channel.ExpiresAt(),
		Reserve:         sess.Reserve,
	})
	if err != nil {
		log.Printf("journal: session open write dropped: %v", err)
	}
}

func (e *Engine) recordSessionClosed(ctx context.Context, channelID uuid.UUID, outcome channel.State, closedAt time.Time) {
	if e.journal == nil {
		return
	}
	if err := e.journal.SessionClosed(ctx, channelID, outcome, closedAt); err != nil {
		log.Printf("journal: session close write dropped: %v", err)
	}
}
