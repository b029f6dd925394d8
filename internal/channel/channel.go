package channel

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchclock/engine/internal/signer"
)

var (
	ErrInvalidParameters       = errors.New("invalid channel parameters")
	ErrChannelClosed           = errors.New("channel already closed")
	ErrHashMismatch            = errors.New("claim hash mismatch")
	ErrUnauthorizedSigner      = errors.New("signer is not the channel authorizer")
	ErrClaimExceedsReservation = errors.New("claim exceeds reserved amount")
	ErrNotYetExpired           = errors.New("channel has not expired")
	ErrUnauthorized            = errors.New("caller is not the channel opener")
)

// State is the channel lifecycle. Open is the only state that accepts
// transitions; both closed states are terminal.
type State int

const (
	Open State = iota
	ClosedByClaim
	ClosedByTimeout
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case ClosedByClaim:
		return "closed_by_claim"
	case ClosedByTimeout:
		return "closed_by_timeout"
	default:
		return "unknown"
	}
}

// Channel is a single-use settlement unit earmarking reserved funds for one
// payee. It closes exactly once: by a verified signed claim, or by the
// opener reclaiming it after expiry.
//
// A Channel is not internally synchronized; its owner (one session inside
// the payroll engine, or a single test) serializes access.
type Channel struct {
	id        uuid.UUID
	opener    signer.Identity
	payee     signer.Identity
	remainder signer.Identity
	reserved  decimal.Decimal
	expiresAt time.Time
	state     State
}

// NewChannel opens a channel. The reservation must be positive and the
// expiry strictly in the future relative to now.
func NewChannel(opener, payee, remainderWallet signer.Identity, reserved decimal.Decimal, expiresAt, now time.Time) (*Channel, error) {
	if !reserved.IsPositive() {
		return nil, ErrInvalidParameters
	}
	if !expiresAt.After(now) {
		return nil, ErrInvalidParameters
	}

	return &Channel{
		id:        uuid.New(),
		opener:    opener,
		payee:     payee,
		remainder: remainderWallet,
		reserved:  reserved,
		expiresAt: expiresAt,
		state:     Open,
	}, nil
}

// Settlement is the outcome of a successful claim: Paid goes to the payee,
// Remainder is released back to the opener's ledger.
type Settlement struct {
	Paid      decimal.Decimal
	Remainder decimal.Decimal
}

// SettleByClaim closes the channel against an authorized claim. The digest
// must equal the canonical claim digest for (channel id, amount), the
// signature must recover to the channel's authorizer (its opener), and the
// amount must not exceed the reservation.
func (c *Channel) SettleByClaim(digest [32]byte, sig []byte, amount decimal.Decimal) (Settlement, error) {
	if c.state != Open {
		return Settlement{}, ErrChannelClosed
	}
	if amount.IsNegative() {
		return Settlement{}, ErrInvalidParameters
	}

	if signer.ClaimDigest(c.id, amount) != digest {
		return Settlement{}, ErrHashMismatch
	}

	who, err := signer.RecoverSigner(digest, sig)
	if err != nil {
		return Settlement{}, err
	}
	if who != c.opener {
		return Settlement{}, ErrUnauthorizedSigner
	}

	if amount.GreaterThan(c.reserved) {
		return Settlement{}, ErrClaimExceedsReservation
	}

	c.state = ClosedByClaim
	return Settlement{
		Paid:      amount,
		Remainder: c.reserved.Sub(amount),
	}, nil
}

// Timeout closes the channel after expiry and returns the full reservation,
// owed to the remainder wallet. Only the opener may reclaim, even past
// expiry.
func (c *Channel) Timeout(caller signer.Identity, now time.Time) (decimal.Decimal, error) {
	if c.state != Open {
		return decimal.Decimal{}, ErrChannelClosed
	}
	if caller != c.opener {
		return decimal.Decimal{}, ErrUnauthorized
	}
	if now.Before(c.expiresAt) {
		return decimal.Decimal{}, ErrNotYetExpired
	}

	c.state = ClosedByTimeout
	return c.reserved, nil
}

// Parties reports the identities bound to the channel so callers can
// confirm a recovered signer out of band before submitting a claim. The
// authorizer is the opener.
func (c *Channel) Parties() (authorizer, opener, payee, remainderWallet signer.Identity) {
	return c.opener, c.opener, c.payee, c.remainder
}

func (c *Channel) ID() uuid.UUID             { return c.id }
func (c *Channel) Reserved() decimal.Decimal { return c.reserved }
func (c *Channel) ExpiresAt() time.Time      { return c.expiresAt }
func (c *Channel) State() State              { return c.state }
func (c *Channel) Payee() signer.Identity    { return c.payee }
func (c *Channel) Opener() signer.Identity   { return c.opener }
