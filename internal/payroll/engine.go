package payroll

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchclock/engine/internal/channel"
	"github.com/punchclock/engine/internal/directory"
	"github.com/punchclock/engine/internal/signer"
	"github.com/punchclock/engine/pkg/messaging"
)

var (
	ErrUnauthorized        = errors.New("caller is not the ledger owner")
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrInsufficientFunds   = errors.New("not enough money")
	ErrNotEmployed         = errors.New("identity is not employed")
	ErrAlreadyPunchedIn    = errors.New("identity already has an active session")
	ErrNoActiveSession     = errors.New("identity has no active session")
	ErrClaimExceedsTimeCap = errors.New("claim exceeds time-accrued cap")
)

// DefaultGrace is added beyond an employee's maximum session duration when
// computing channel expiry, so a claim produced near the session cap still
// has room to settle before the employer can reclaim.
const DefaultGrace = 15 * time.Minute

// Clock supplies the engine's notion of now. Tests substitute a fake.
type Clock func() time.Time

// Publisher delivers lifecycle events. *messaging.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Session is one employee's open accrual window, owning exactly one channel
// for its lifetime.
type Session struct {
	Identity          signer.Identity
	PunchInAt         time.Time
	SalaryPerSecond   decimal.Decimal
	MaxSessionSeconds int64
	Reserve           decimal.Decimal
	Channel           *channel.Channel
}

// Engine owns the employer's ledger balance and all sessions. Every
// mutating operation runs under one mutex so no operation ever observes a
// partially applied effect of another; in particular the punch-in admission
// check always sees the current sum of other sessions' reservations.
type Engine struct {
	owner signer.Identity
	dir   *directory.Directory

	mu       sync.Mutex
	balance  decimal.Decimal
	sessions map[signer.Identity]*Session

	grace     time.Duration
	now       Clock
	journal   Journal
	publisher Publisher
}

// Config carries engine construction options. Journal and Publisher are
// optional; a nil journal runs the engine purely in memory.
type Config struct {
	Owner     signer.Identity
	Grace     time.Duration
	Clock     Clock
	Journal   Journal
	Publisher Publisher
}

func NewEngine(dir *directory.Directory, cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}

	return &Engine{
		owner:     cfg.Owner,
		dir:       dir,
		balance:   decimal.Zero,
		sessions:  make(map[signer.Identity]*Session),
		grace:     cfg.Grace,
		now:       cfg.Clock,
		journal:   cfg.Journal,
		publisher: cfg.Publisher,
	}
}

func (e *Engine) Owner() signer.Identity { return e.owner }

// Deposit increases the ledger balance.
func (e *Engine) Deposit(ctx context.Context, amount decimal.Decimal) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}

	e.mu.Lock()
	e.balance = e.balance.Add(amount)
	balance, available := e.balance, e.availableLocked()
	e.recordEntry(ctx, EntryDeposit, amount, balance, "")
	e.mu.Unlock()

	e.publishFunds(ctx, messaging.SubjectFundsDeposited, amount, balance, available)

	return nil
}

// Withdraw decreases the ledger balance. Only the owner may withdraw, and
// only up to the balance net of active reservations: funds a session has
// reserved stay claimable until the session settles or times out, so a
// later valid claim can never drive the balance negative.
func (e *Engine) Withdraw(ctx context.Context, caller signer.Identity, amount decimal.Decimal) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	if !validAmount(amount) {
		return ErrInvalidAmount
	}

	e.mu.Lock()
	if amount.GreaterThan(e.availableLocked()) {
		e.mu.Unlock()
		return ErrInsufficientFunds
	}
	e.balance = e.balance.Sub(amount)
	balance, available := e.balance, e.availableLocked()
	e.recordEntry(ctx, EntryWithdrawal, amount, balance, "")
	e.mu.Unlock()

	e.publishFunds(ctx, messaging.SubjectFundsWithdrawn, amount, balance, available)

	return nil
}

// HireEmployee delegates to the directory and records/announces the hire.
// Nothing is reserved at hire time; the session reserve (rate times maximum
// duration) is computed at each punch-in.
func (e *Engine) HireEmployee(ctx context.Context, caller, identity signer.Identity, salaryPerSecond decimal.Decimal, maxSessionSeconds int64) (int64, error) {
	e.mu.Lock()
	id, err := e.dir.Hire(caller, identity, salaryPerSecond, maxSessionSeconds)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	rec, _ := e.dir.Read(identity)
	e.recordEmployee(ctx, rec)
	e.mu.Unlock()

	e.publishEmployee(ctx, messaging.SubjectEmployeeHired, rec)

	return id, nil
}

// TerminateEmployee clears the employed flag. An already-open session keeps
// running; its claim stays bounded by the reserve and time cap.
func (e *Engine) TerminateEmployee(ctx context.Context, caller, identity signer.Identity) error {
	e.mu.Lock()
	if err := e.dir.Terminate(caller, identity); err != nil {
		e.mu.Unlock()
		return err
	}
	rec, _ := e.dir.Read(identity)
	e.recordEmployee(ctx, rec)
	e.mu.Unlock()

	e.publishEmployee(ctx, messaging.SubjectEmployeeTerminated, rec)

	return nil
}

// UpdateSalaryRate overwrites an employee's rate. Active sessions keep the
// terms captured at punch-in; the new rate applies from the next session.
func (e *Engine) UpdateSalaryRate(ctx context.Context, caller, identity signer.Identity, newRate decimal.Decimal) error {
	e.mu.Lock()
	if err := e.dir.UpdateSalaryRate(caller, identity, newRate); err != nil {
		e.mu.Unlock()
		return err
	}
	rec, _ := e.dir.Read(identity)
	e.recordEmployee(ctx, rec)
	e.mu.Unlock()

	return nil
}

// AddToWhitelist grants identity membership in the directory's access
// policy so it may perform administrative directory operations.
func (e *Engine) AddToWhitelist(ctx context.Context, caller, identity signer.Identity) error {
	return e.dir.AddToWhitelist(caller, identity)
}

// PunchIn opens a session and its backing one-time channel for identity,
// returning the channel id the employee quotes when requesting an
// authorized claim. The session reserve is admitted against the balance
// net of all other active sessions' reservations, never the raw balance,
// so concurrent sessions cannot overcommit the ledger.
func (e *Engine) PunchIn(ctx context.Context, identity signer.Identity) (uuid.UUID, error) {
	e.mu.Lock()

	rec, err := e.dir.Read(identity)
	if err != nil || !rec.Employed {
		e.mu.Unlock()
		return uuid.Nil, ErrNotEmployed
	}
	if _, active := e.sessions[identity]; active {
		e.mu.Unlock()
		return uuid.Nil, ErrAlreadyPunchedIn
	}

	reserve := rec.SalaryPerSecond.Mul(decimal.NewFromInt(rec.MaxSessionSeconds))
	if reserve.GreaterThan(e.availableLocked()) {
		e.mu.Unlock()
		return uuid.Nil, ErrInsufficientFunds
	}

	now := e.now()
	expiry := now.Add(time.Duration(rec.MaxSessionSeconds)*time.Second + e.grace)

	ch, err := channel.NewChannel(e.owner, identity, e.owner, reserve, expiry, now)
	if err != nil {
		e.mu.Unlock()
		return uuid.Nil, err
	}

	sess := &Session{
		Identity:          identity,
		PunchInAt:         now,
		SalaryPerSecond:   rec.SalaryPerSecond,
		MaxSessionSeconds: rec.MaxSessionSeconds,
		Reserve:           reserve,
		Channel:           ch,
	}
	e.sessions[identity] = sess
	available := e.availableLocked()
	e.recordSessionOpened(ctx, sess)
	e.mu.Unlock()

	e.publishSession(ctx, messaging.SubjectSessionOpened, sess, decimal.Zero, decimal.Zero, available)

	return ch.ID(), nil
}

// CurrentMaximumClaimable returns the authoritative claim cap for the
// identity's open session at the engine's current time.
func (e *Engine) CurrentMaximumClaimable(identity signer.Identity) (decimal.Decimal, error) {
	return e.MaximumClaimableAt(identity, e.now())
}

// MaximumClaimableAt is CurrentMaximumClaimable against an explicit time:
// min(reserve, elapsed whole seconds times salary rate). The cap saturates
// at the reserve and never goes below zero. It exists so the engine can
// reject inflated claims regardless of what an authorizer signed.
func (e *Engine) MaximumClaimableAt(identity signer.Identity, at time.Time) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, active := e.sessions[identity]
	if !active {
		return decimal.Decimal{}, ErrNoActiveSession
	}
	return maxClaimable(sess, at), nil
}

func maxClaimable(sess *Session, at time.Time) decimal.Decimal {
	elapsed := int64(at.Sub(sess.PunchInAt) / time.Second)
	if elapsed <= 0 {
		return decimal.Zero
	}

	accrued := sess.SalaryPerSecond.Mul(decimal.NewFromInt(elapsed))
	return decimal.Min(sess.Reserve, accrued)
}

// PunchOut settles the identity's session against an employer-authorized
// claim. On top of the channel's own checks (digest, signer, reservation
// cap) the engine enforces the time-accrued cap at call time; the double
// cap is deliberate. On success the balance drops by exactly the claimed
// amount, the unspent reservation returns to the available balance, and
// the session closes.
func (e *Engine) PunchOut(ctx context.Context, identity signer.Identity, digest [32]byte, sig []byte, amount decimal.Decimal) (decimal.Decimal, error) {
	e.mu.Lock()

	sess, active := e.sessions[identity]
	if !active {
		e.mu.Unlock()
		return decimal.Decimal{}, ErrNoActiveSession
	}

	now := e.now()
	if amount.GreaterThan(maxClaimable(sess, now)) {
		e.mu.Unlock()
		return decimal.Decimal{}, ErrClaimExceedsTimeCap
	}

	settlement, err := sess.Channel.SettleByClaim(digest, sig, amount)
	if err != nil {
		e.mu.Unlock()
		return decimal.Decimal{}, err
	}

	e.balance = e.balance.Sub(settlement.Paid)
	delete(e.sessions, identity)
	balance, available := e.balance, e.availableLocked()
	e.recordEntry(ctx, EntrySettlement, settlement.Paid, balance, sess.Channel.ID().String())
	e.recordSessionClosed(ctx, sess.Channel.ID(), channel.ClosedByClaim, now)
	e.mu.Unlock()

	e.publishSession(ctx, messaging.SubjectSessionSettled, sess, settlement.Paid, settlement.Remainder, available)

	return settlement.Paid, nil
}

// ForceTimeout reclaims an abandoned session's channel after expiry. The
// full reservation returns to the available balance; no partial accrual is
// paid on a timed-out session.
func (e *Engine) ForceTimeout(ctx context.Context, identity, caller signer.Identity) error {
	e.mu.Lock()

	sess, active := e.sessions[identity]
	if !active {
		e.mu.Unlock()
		return ErrNoActiveSession
	}

	now := e.now()
	released, err := sess.Channel.Timeout(caller, now)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	// The reservation was never deducted from the balance, only held
	// against availability; dropping the session releases it in full.
	delete(e.sessions, identity)
	balance, available := e.balance, e.availableLocked()
	e.recordEntry(ctx, EntryTimeoutRelease, released, balance, sess.Channel.ID().String())
	e.recordSessionClosed(ctx, sess.Channel.ID(), channel.ClosedByTimeout, now)
	e.mu.Unlock()

	e.publishSession(ctx, messaging.SubjectSessionTimedOut, sess, decimal.Zero, released, available)

	return nil
}

// SweepExpired times out every expired session on the employer's behalf
// and reports how many were reclaimed.
func (e *Engine) SweepExpired(ctx context.Context) int {
	e.mu.Lock()
	var expired []signer.Identity
	now := e.now()
	for identity, sess := range e.sessions {
		if !now.Before(sess.Channel.ExpiresAt()) {
			expired = append(expired, identity)
		}
	}
	e.mu.Unlock()

	swept := 0
	for _, identity := range expired {
		if err := e.ForceTimeout(ctx, identity, e.owner); err == nil {
			swept++
		}
	}
	return swept
}

// IsPunchedIn reports whether identity has an active session.
func (e *Engine) IsPunchedIn(identity signer.Identity) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, active := e.sessions[identity]
	return active
}

// Balance returns the raw ledger balance.
func (e *Engine) Balance() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// Available returns the balance net of all active sessions' reservations,
// the amount admissible for new reservations or settlements.
func (e *Engine) Available() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.availableLocked()
}

func (e *Engine) availableLocked() decimal.Decimal {
	available := e.balance
	for _, sess := range e.sessions {
		available = available.Sub(sess.Reserve)
	}
	return available
}

// EmployeeCount reports the number of directory records.
func (e *Engine) EmployeeCount() int {
	return e.dir.Count()
}

// SessionInfo is a read-only snapshot of an active session.
type SessionInfo struct {
	Identity        signer.Identity
	Opener          signer.Identity
	RemainderWallet signer.Identity
	ChannelID       uuid.UUID
	PunchInAt       time.Time
	ExpiresAt       time.Time
	Reserve         decimal.Decimal
	MaxClaimable    decimal.Decimal
}

// Session returns a snapshot of identity's active session.
func (e *Engine) Session(identity signer.Identity) (SessionInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, active := e.sessions[identity]
	if !active {
		return SessionInfo{}, ErrNoActiveSession
	}

	return SessionInfo{
		Identity:        identity,
		Opener:          e.owner,
		RemainderWallet: e.owner,
		ChannelID:       sess.Channel.ID(),
		PunchInAt:       sess.PunchInAt,
		ExpiresAt:       sess.Channel.ExpiresAt(),
		Reserve:         sess.Reserve,
		MaxClaimable:    maxClaimable(sess, e.now()),
	}, nil
}

// validAmount accepts positive whole numbers of the smallest currency unit.
func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Truncate(0))
}
