package payroll

import (
	"context"
	"sync"
	"testing"
	"time"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchclock/engine/internal/channel"
	"github.com/punchclock/engine/internal/directory"
	"github.com/punchclock/engine/internal/signer"
	"github.com/punchclock/engine/pkg/messaging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []messaging.Envelope
}

func (p *fakePublisher) Publish(ctx context.Context, subject string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if env, ok := data.(messaging.Envelope); ok {
		p.events = append(p.events, env)
	}
	return nil
}

func (p *fakePublisher) byType(eventType string) []messaging.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []messaging.Envelope
	for _, env := range p.events {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

type harness struct {
	engine   *Engine
	clock    *fakeClock
	pub      *fakePublisher
	ownerKey *secp256k1.PrivateKey
	owner    signer.Identity
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	owner := signer.IdentityFromPub(key.PubKey())

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	pub := &fakePublisher{}
	dir := directory.New(directory.NewWhitelist(owner))

	engine := NewEngine(dir, Config{
		Owner:     owner,
		Grace:     time.Second,
		Clock:     clock.Now,
		Publisher: pub,
	})

	return &harness{engine: engine, clock: clock, pub: pub, ownerKey: key, owner: owner}
}

// signClaim produces the (digest, signature) pair the employer's
// authorizing key would hand the employee for a given channel and amount.
func (h *harness) signClaim(channelID uuid.UUID, amount int64) ([32]byte, []byte, decimal.Decimal) {
	amt := decimal.NewFromInt(amount)
	digest := signer.ClaimDigest(channelID, amt)
	return digest, signer.SignDigest(h.ownerKey, digest), amt
}

func ident(b byte) signer.Identity {
	var id signer.Identity
	id[19] = b
	return id
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("should be commutative", func(t *testing.T) {
		a := newHarness(t)
		require.NoError(t, a.engine.Deposit(ctx, decimal.NewFromInt(100)))
		require.NoError(t, a.engine.Deposit(ctx, decimal.NewFromInt(250)))

		b := newHarness(t)
		require.NoError(t, b.engine.Deposit(ctx, decimal.NewFromInt(250)))
		require.NoError(t, b.engine.Deposit(ctx, decimal.NewFromInt(100)))

		assert.True(t, a.engine.Balance().Equal(b.engine.Balance()))
		assert.True(t, a.engine.Balance().Equal(decimal.NewFromInt(350)))
	})

	t.Run("should reject non-positive and fractional amounts", func(t *testing.T) {
		h := newHarness(t)

		assert.ErrorIs(t, h.engine.Deposit(ctx, decimal.Zero), ErrInvalidAmount)
		assert.ErrorIs(t, h.engine.Deposit(ctx, decimal.NewFromInt(-10)), ErrInvalidAmount)

		half, _ := decimal.NewFromString("10.5")
		assert.ErrorIs(t, h.engine.Deposit(ctx, half), ErrInvalidAmount)

		assert.True(t, h.engine.Balance().IsZero())
	})

	t.Run("should publish a funds event", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(100)))
		assert.Len(t, h.pub.byType(messaging.SubjectFundsDeposited), 1)
	})
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("should manage the balance", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(100)))
		require.NoError(t, h.engine.Withdraw(ctx, h.owner, decimal.NewFromInt(50)))
		assert.True(t, h.engine.Balance().Equal(decimal.NewFromInt(50)))
	})

	t.Run("should be owner-only", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(100)))

		err := h.engine.Withdraw(ctx, ident(9), decimal.NewFromInt(50))
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.True(t, h.engine.Balance().Equal(decimal.NewFromInt(100)))
	})

	t.Run("should fail atomically on underflow", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(100)))

		err := h.engine.Withdraw(ctx, h.owner, decimal.NewFromInt(150))
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.True(t, h.engine.Balance().Equal(decimal.NewFromInt(100)))
	})

	t.Run("should not touch funds reserved by an active session", func(t *testing.T) {
		h := newHarness(t)
		worker := ident(10)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(80)))
		_, err := h.engine.HireEmployee(ctx, h.owner, worker, decimal.NewFromInt(10), 8)
		require.NoError(t, err)
		channelID, err := h.engine.PunchIn(ctx, worker)
		require.NoError(t, err)
		require.True(t, h.engine.Available().IsZero())

		// The whole balance is reserved; the owner cannot drain it out
		// from under the open channel.
		err = h.engine.Withdraw(ctx, h.owner, decimal.NewFromInt(80))
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.True(t, h.engine.Balance().Equal(decimal.NewFromInt(80)))

		// The session's claim still settles and the balance stays
		// non-negative.
		h.clock.Advance(3 * time.Second)
		digest, sig, amt := h.signClaim(channelID, 30)
		paid, err := h.engine.PunchOut(ctx, worker, digest, sig, amt)
		require.NoError(t, err)
		assert.True(t, paid.Equal(decimal.NewFromInt(30)))
		assert.True(t, h.engine.Balance().Equal(decimal.NewFromInt(50)))
	})

	t.Run("should allow withdrawing the unreserved remainder", func(t *testing.T) {
		h := newHarness(t)
		worker := ident(10)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(100)))
		_, err := h.engine.HireEmployee(ctx, h.owner, worker, decimal.NewFromInt(10), 8)
		require.NoError(t, err)
		_, err = h.engine.PunchIn(ctx, worker)
		require.NoError(t, err)

		err = h.engine.Withdraw(ctx, h.owner, decimal.NewFromInt(21))
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		require.NoError(t, h.engine.Withdraw(ctx, h.owner, decimal.NewFromInt(20)))
		assert.True(t, h.engine.Balance().Equal(decimal.NewFromInt(80)))
		assert.True(t, h.engine.Available().IsZero())
	})
}

func TestHireEmployee(t *testing.T) {
	ctx := context.Background()
	worker := ident(10)

	t.Run("should create the employee and count it", func(t *testing.T) {
		h := newHarness(t)
		id, err := h.engine.HireEmployee(ctx, h.owner, worker, decimal.NewFromInt(10), 8)
		require.NoError(t, err)
		assert.Equal(t, int64(1), id)
		assert.Equal(t, 1, h.engine.EmployeeCount())
		assert.Len(t, h.pub.byType(messaging.SubjectEmployeeHired), 1)
	})

	t.Run("should fail a duplicate hire without changing the count", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.HireEmployee(ctx, h.owner, worker, decimal.NewFromInt(10), 8)
		require.NoError(t, err)

		_, err = h.engine.HireEmployee(ctx, h.owner, worker, decimal.NewFromInt(10), 8)
		assert.ErrorIs(t, err, directory.ErrDuplicateEmployee)
		assert.Equal(t, 1, h.engine.EmployeeCount())
	})

	t.Run("should reject non-whitelisted callers", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.HireEmployee(ctx, ident(9), worker, decimal.NewFromInt(10), 8)
		assert.ErrorIs(t, err, directory.ErrUnauthorized)
	})
}

func TestAddToWhitelist(t *testing.T) {
	ctx := context.Background()

	t.Run("should let a granted member hire", func(t *testing.T) {
		h := newHarness(t)
		delegate, worker := ident(2), ident(10)

		_, err := h.engine.HireEmployee(ctx, delegate, worker, decimal.NewFromInt(10), 8)
		require.ErrorIs(t, err, directory.ErrUnauthorized)

		require.NoError(t, h.engine.AddToWhitelist(ctx, h.owner, delegate))
		_, err = h.engine.HireEmployee(ctx, delegate, worker, decimal.NewFromInt(10), 8)
		assert.NoError(t, err)
	})

	t.Run("should refuse non-members growing the set", func(t *testing.T) {
		h := newHarness(t)
		err := h.engine.AddToWhitelist(ctx, ident(2), ident(3))
		assert.ErrorIs(t, err, directory.ErrUnauthorized)
	})
}

// failingJournal errors on every write; the engine treats the journal as a
// write-behind mirror, so operations must still succeed.
type failingJournal struct{}

func (failingJournal) EmployeeRecorded(context.Context, directory.Record) error { return assert.AnError }
func (failingJournal) EntryRecorded(context.Context, Entry) error               { return assert.AnError }
func (failingJournal) SessionOpened(context.Context, SessionInfo) error         { return assert.AnError }
func (failingJournal) SessionClosed(context.Context, uuid.UUID, channel.State, time.Time) error {
	return assert.AnError
}

func TestJournalFailuresDoNotBlockOperations(t *testing.T) {
	ctx := context.Background()

	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	owner := signer.IdentityFromPub(key.PubKey())
	clock := &fakeClock{now: time.Unix(1700000000, 0)}

	engine := NewEngine(directory.New(directory.NewWhitelist(owner)), Config{
		Owner:   owner,
		Grace:   time.Second,
		Clock:   clock.Now,
		Journal: failingJournal{},
	})

	worker := ident(10)
	require.NoError(t, engine.Deposit(ctx, decimal.NewFromInt(1000)))
	_, err = engine.HireEmployee(ctx, owner, worker, decimal.NewFromInt(10), 8)
	require.NoError(t, err)
	channelID, err := engine.PunchIn(ctx, worker)
	require.NoError(t, err)

	clock.Advance(3 * time.Second)
	amt := decimal.NewFromInt(30)
	digest := signer.ClaimDigest(channelID, amt)
	paid, err := engine.PunchOut(ctx, worker, digest, signer.SignDigest(key, digest), amt)
	require.NoError(t, err)
	assert.True(t, paid.Equal(amt))
	assert.True(t, engine.Balance().Equal(decimal.NewFromInt(970)))
}

// reentrantPublisher reads engine state from inside Publish. Publication
// happens after the engine lock is released, so this must not deadlock.
type reentrantPublisher struct {
	engine *Engine
}

func (p *reentrantPublisher) Publish(ctx context.Context, subject string, data interface{}) error {
	p.engine.Balance()
	p.engine.Available()
	return nil
}

func TestPublishHappensOutsideTheLock(t *testing.T) {
	ctx := context.Background()

	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	owner := signer.IdentityFromPub(key.PubKey())
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	pub := &reentrantPublisher{}

	engine := NewEngine(directory.New(directory.NewWhitelist(owner)), Config{
		Owner:     owner,
		Grace:     time.Second,
		Clock:     clock.Now,
		Publisher: pub,
	})
	pub.engine = engine

	worker := ident(10)
	require.NoError(t, engine.Deposit(ctx, decimal.NewFromInt(1000)))
	_, err = engine.HireEmployee(ctx, owner, worker, decimal.NewFromInt(10), 8)
	require.NoError(t, err)
	channelID, err := engine.PunchIn(ctx, worker)
	require.NoError(t, err)

	clock.Advance(3 * time.Second)
	amt := decimal.NewFromInt(30)
	digest := signer.ClaimDigest(channelID, amt)
	_, err = engine.PunchOut(ctx, worker, digest, signer.SignDigest(key, digest), amt)
	require.NoError(t, err)

	_, err = engine.PunchIn(ctx, worker)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	require.NoError(t, engine.ForceTimeout(ctx, worker, owner))
	require.NoError(t, engine.TerminateEmployee(ctx, owner, worker))
}

func TestPunchIn(t *testing.T) {
	ctx := context.Background()
	worker := ident(10)

	t.Run("should require employment", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.PunchIn(ctx, worker)
		assert.ErrorIs(t, err, ErrNotEmployed)
	})

	t.Run("should refuse a second concurrent session", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(1000)))
		_, err := h.engine.HireEmployee(ctx, h.owner, worker, decimal.NewFromInt(10), 8)
		require.NoError(t, err)

		_, err = h.engine.PunchIn(ctx, worker)
		require.NoError(t, err)

		_, err = h.engine.PunchIn(ctx, worker)
		assert.ErrorIs(t, err, ErrAlreadyPunchedIn)
	})

	t.Run("should not punch in terminated employees", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(1000)))
		_, err := h.engine.HireEmployee(ctx, h.owner, worker, decimal.NewFromInt(10), 8)
		require.NoError(t, err)
		require.NoError(t, h.engine.TerminateEmployee(ctx, h.owner, worker))

		_, err = h.engine.PunchIn(ctx, worker)
		assert.ErrorIs(t, err, ErrNotEmployed)
	})

	t.Run("should reserve net of other active sessions", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(1000)))

		// A at 10/sec for at most 8s holds 80 of the 1000.
		workerA, workerB := ident(10), ident(11)
		_, err := h.engine.HireEmployee(ctx, h.owner, workerA, decimal.NewFromInt(10), 8)
		require.NoError(t, err)
		_, err = h.engine.PunchIn(ctx, workerA)
		require.NoError(t, err)
		assert.True(t, h.engine.Available().Equal(decimal.NewFromInt(920)))

		// B's reserve of 2000 must be checked against the 920 actually
		// available, not the raw 1000 balance.
		_, err = h.engine.HireEmployee(ctx, h.owner, workerB, decimal.NewFromInt(1000), 2)
		require.NoError(t, err)
		_, err = h.engine.PunchIn(ctx, workerB)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.False(t, h.engine.IsPunchedIn(workerB))
	})

	t.Run("should admit a reserve equal to the available balance", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(1000)))

		workerA, workerB := ident(10), ident(11)
		_, err := h.engine.HireEmployee(ctx, h.owner, workerA, decimal.NewFromInt(10), 8)
		require.NoError(t, err)
		_, err = h.engine.PunchIn(ctx, workerA)
		require.NoError(t, err)

		_, err = h.engine.HireEmployee(ctx, h.owner, workerB, decimal.NewFromInt(460), 2)
		require.NoError(t, err)
		_, err = h.engine.PunchIn(ctx, workerB)
		require.NoError(t, err)
		assert.True(t, h.engine.Available().IsZero())
	})

	t.Run("should return the channel id and open the session", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(1000)))
		_, err := h.engine.HireEmployee(ctx, h.owner, worker, decimal.NewFromInt(10), 8)
		require.NoError(t, err)

		channelID, err := h.engine.PunchIn(ctx, worker)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, channelID)
		assert.True(t, h.engine.IsPunchedIn(worker))

		info, err := h.engine.Session(worker)
		require.NoError(t, err)
		assert.Equal(t, channelID, info.ChannelID)
		assert.True(t, info.Reserve.Equal(decimal.NewFromInt(80)))
		assert.Len(t, h.pub.byType(messaging.SubjectSessionOpened), 1)
	})
}

func TestCurrentMaximumClaimable(t *testing.T) {
	ctx := context.Background()
	worker := ident(10)

	setup := func(t *testing.T) *harness {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(1000)))
		_, err := h.engine.HireEmployee(ctx, h.owner, worker, decimal.NewFromInt(10), 8)
		require.NoError(t, err)
		_, err = h.engine.PunchIn(ctx, worker)
		require.NoError(t, err)
		return h
	}

	t.Run("should be zero at punch-in time", func(t *testing.T) {
		h := setup(t)
		cap, err := h.engine.CurrentMaximumClaimable(worker)
		require.NoError(t, err)
		assert.True(t, cap.IsZero())
	})

	t.Run("should accrue per elapsed second", func(t *testing.T) {
		h := setup(t)
		h.clock.Advance(3 * time.Second)

		cap, err := h.engine.CurrentMaximumClaimable(worker)
		require.NoError(t, err)
		assert.True(t, cap.Equal(decimal.NewFromInt(30)))
	})

	t.Run("should saturate at the session reserve", func(t *testing.T) {
		h := setup(t)

		h.clock.Advance(8 * time.Second)
		cap, err := h.engine.CurrentMaximumClaimable(worker)
		require.NoError(t, err)
		assert.True(t, cap.Equal(decimal.NewFromInt(80)))

		h.clock.Advance(time.Hour)
		cap, err = h.engine.CurrentMaximumClaimable(worker)
		require.NoError(t, err)
		assert.True(t, cap.Equal(decimal.NewFromInt(80)))
	})

	t.Run("should fail without an active session", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.CurrentMaximumClaimable(worker)
		assert.ErrorIs(t, err, ErrNoActiveSession)
	})
}

func TestPunchOut(t *testing.T) {
	ctx := context.Background()
	worker := ident(10)

	setup := func(t *testing.T) (*harness, uuid.UUID) {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(1000)))
		_, err := h.engine.HireEmployee(ctx, h.owner, worker, decimal.NewFromInt(10), 8)
		require.NoError(t, err)
		channelID, err := h.engine.PunchIn(ctx, worker)
		require.NoError(t, err)
		return h, channelID
	}

	t.Run("should settle a valid claim for the elapsed accrual", func(t *testing.T) {
		h, channelID := setup(t)
		h.clock.Advance(3 * time.Second)

		digest, sig, amt := h.signClaim(channelID, 30)
		paid, err := h.engine.PunchOut(ctx, worker, digest, sig, amt)
		require.NoError(t, err)

		assert.True(t, paid.Equal(decimal.NewFromInt(30)))
		assert.True(t, h.engine.Balance().Equal(decimal.NewFromInt(970)))
		// The unspent reservation is back in the available balance.
		assert.True(t, h.engine.Available().Equal(decimal.NewFromInt(970)))
		assert.False(t, h.engine.IsPunchedIn(worker))
		assert.Len(t, h.pub.byType(messaging.SubjectSessionSettled), 1)
	})

	t.Run("should reject a second settlement of the same session", func(t *testing.T) {
		h, channelID := setup(t)
		h.clock.Advance(3 * time.Second)

		digest, sig, amt := h.signClaim(channelID, 30)
		_, err := h.engine.PunchOut(ctx, worker, digest, sig, amt)
		require.NoError(t, err)

		_, err = h.engine.PunchOut(ctx, worker, digest, sig, amt)
		assert.ErrorIs(t, err, ErrNoActiveSession)
	})

	t.Run("should cap claims by elapsed time even within the reservation", func(t *testing.T) {
		h, channelID := setup(t)
		h.clock.Advance(3 * time.Second)

		// 40 is inside the 80 reservation but above the 30 accrued.
		digest, sig, amt := h.signClaim(channelID, 40)
		_, err := h.engine.PunchOut(ctx, worker, digest, sig, amt)
		assert.ErrorIs(t, err, ErrClaimExceedsTimeCap)

		// Nothing moved; the session is still settleable.
		assert.True(t, h.engine.Balance().Equal(decimal.NewFromInt(1000)))
		assert.True(t, h.engine.IsPunchedIn(worker))
	})

	t.Run("should reject claims signed by someone other than the employer", func(t *testing.T) {
		h, channelID := setup(t)
		h.clock.Advance(3 * time.Second)

		rogue, err := secp256k1.GeneratePrivateKey()
		require.NoError(t, err)

		amt := decimal.NewFromInt(30)
		digest := signer.ClaimDigest(channelID, amt)
		sig := signer.SignDigest(rogue, digest)

		_, err = h.engine.PunchOut(ctx, worker, digest, sig, amt)
		assert.ErrorIs(t, err, channel.ErrUnauthorizedSigner)
		assert.True(t, h.engine.IsPunchedIn(worker))
	})

	t.Run("should reject a tampered digest", func(t *testing.T) {
		h, channelID := setup(t)
		h.clock.Advance(3 * time.Second)

		digest, sig, _ := h.signClaim(channelID, 30)
		_, err := h.engine.PunchOut(ctx, worker, digest, sig, decimal.NewFromInt(29))
		assert.ErrorIs(t, err, channel.ErrHashMismatch)
	})

	t.Run("should allow a zero claim immediately after punch-in", func(t *testing.T) {
		h, channelID := setup(t)

		digest, sig, amt := h.signClaim(channelID, 0)
		paid, err := h.engine.PunchOut(ctx, worker, digest, sig, amt)
		require.NoError(t, err)
		assert.True(t, paid.IsZero())
		assert.True(t, h.engine.Balance().Equal(decimal.NewFromInt(1000)))
	})
}

func TestForceTimeout(t *testing.T) {
	ctx := context.Background()
	worker := ident(10)

	setup := func(t *testing.T) *harness {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(1000)))
		_, err := h.engine.HireEmployee(ctx, h.owner, worker, decimal.NewFromInt(10), 8)
		require.NoError(t, err)
		_, err = h.engine.PunchIn(ctx, worker)
		require.NoError(t, err)
		return h
	}

	t.Run("should fail before expiry", func(t *testing.T) {
		h := setup(t)
		h.clock.Advance(3 * time.Second) // expiry is max session (8s) + grace (1s)

		err := h.engine.ForceTimeout(ctx, worker, h.owner)
		assert.ErrorIs(t, err, channel.ErrNotYetExpired)
		assert.True(t, h.engine.IsPunchedIn(worker))
	})

	t.Run("should fail for callers other than the opener", func(t *testing.T) {
		h := setup(t)
		h.clock.Advance(time.Minute)

		err := h.engine.ForceTimeout(ctx, worker, ident(9))
		assert.ErrorIs(t, err, channel.ErrUnauthorized)
		assert.True(t, h.engine.IsPunchedIn(worker))
	})

	t.Run("should release the full reservation with no partial payment", func(t *testing.T) {
		h := setup(t)
		h.clock.Advance(time.Minute)

		require.NoError(t, h.engine.ForceTimeout(ctx, worker, h.owner))

		assert.False(t, h.engine.IsPunchedIn(worker))
		assert.True(t, h.engine.Balance().Equal(decimal.NewFromInt(1000)))
		assert.True(t, h.engine.Available().Equal(decimal.NewFromInt(1000)))
		assert.Len(t, h.pub.byType(messaging.SubjectSessionTimedOut), 1)
	})

	t.Run("should fail once the session is gone", func(t *testing.T) {
		h := setup(t)
		h.clock.Advance(time.Minute)
		require.NoError(t, h.engine.ForceTimeout(ctx, worker, h.owner))

		err := h.engine.ForceTimeout(ctx, worker, h.owner)
		assert.ErrorIs(t, err, ErrNoActiveSession)
	})
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()

	t.Run("should reclaim every expired session", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(1000)))

		for i := byte(10); i < 13; i++ {
			_, err := h.engine.HireEmployee(ctx, h.owner, ident(i), decimal.NewFromInt(10), 8)
			require.NoError(t, err)
			_, err = h.engine.PunchIn(ctx, ident(i))
			require.NoError(t, err)
		}
		assert.True(t, h.engine.Available().Equal(decimal.NewFromInt(760)))

		h.clock.Advance(time.Minute)
		assert.Equal(t, 3, h.engine.SweepExpired(ctx))
		assert.True(t, h.engine.Available().Equal(decimal.NewFromInt(1000)))
	})

	t.Run("should leave unexpired sessions alone", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(1000)))
		_, err := h.engine.HireEmployee(ctx, h.owner, ident(10), decimal.NewFromInt(10), 8)
		require.NoError(t, err)
		_, err = h.engine.PunchIn(ctx, ident(10))
		require.NoError(t, err)

		assert.Equal(t, 0, h.engine.SweepExpired(ctx))
		assert.True(t, h.engine.IsPunchedIn(ident(10)))
	})
}

func TestEventEnvelopes(t *testing.T) {
	ctx := context.Background()

	t.Run("should carry unique de-duplication references", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(100)))
		require.NoError(t, h.engine.Deposit(ctx, decimal.NewFromInt(100)))

		events := h.pub.byType(messaging.SubjectFundsDeposited)
		require.Len(t, events, 2)
		assert.NotEqual(t, events[0].ID, events[1].ID)
	})
}
