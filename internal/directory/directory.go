package directory

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchclock/engine/internal/signer"
)

var (
	ErrUnauthorized      = errors.New("caller not whitelisted")
	ErrNotFound          = errors.New("employee not found")
	ErrDuplicateEmployee = errors.New("employee already employed")
	ErrInvalidTerms      = errors.New("invalid employment terms")
)

// Record holds one employee's pay terms. Record ids are 1-based, strictly
// increasing and never reused: re-hiring a terminated identity assigns a
// fresh id.
type Record struct {
	ID                int64
	Identity          signer.Identity
	SalaryPerSecond   decimal.Decimal
	MaxSessionSeconds int64
	Employed          bool
	HiredAt           time.Time
}

// Directory is the access-controlled store of employee pay terms, keyed by
// identity. Every mutating operation consults the whitelist before taking
// effect.
type Directory struct {
	acl *Whitelist

	mu      sync.RWMutex
	records map[signer.Identity]*Record
	nextID  int64
	now     func() time.Time
}

func New(acl *Whitelist) *Directory {
	return &Directory{
		acl:     acl,
		records: make(map[signer.Identity]*Record),
		now:     time.Now,
	}
}

// AddToWhitelist grants identity the right to call mutating directory
// operations. Only existing members may grow the set.
func (d *Directory) AddToWhitelist(caller, identity signer.Identity) error {
	return d.acl.Add(caller, identity)
}

// IsWhitelisted reports whether identity may call mutating operations.
func (d *Directory) IsWhitelisted(identity signer.Identity) bool {
	return d.acl.Contains(identity)
}

// Hire creates a record for identity and returns its id. It fails with
// ErrDuplicateEmployee if the identity is currently employed; duplicate
// detection is keyed by identity, not id.
func (d *Directory) Hire(caller, identity signer.Identity, salaryPerSecond decimal.Decimal, maxSessionSeconds int64) (int64, error) {
	if err := d.acl.Authorize(caller); err != nil {
		return 0, err
	}
	if salaryPerSecond.IsNegative() || !salaryPerSecond.Equal(salaryPerSecond.Truncate(0)) {
		return 0, ErrInvalidTerms
	}
	if maxSessionSeconds <= 0 {
		return 0, ErrInvalidTerms
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if rec, ok := d.records[identity]; ok && rec.Employed {
		return 0, ErrDuplicateEmployee
	}

	d.nextID++
	rec := &Record{
		ID:                d.nextID,
		Identity:          identity,
		SalaryPerSecond:   salaryPerSecond,
		MaxSessionSeconds: maxSessionSeconds,
		Employed:          true,
		HiredAt:           d.now(),
	}
	d.records[identity] = rec

	return rec.ID, nil
}

// UpdateSalaryRate overwrites the salary rate of an existing record.
func (d *Directory) UpdateSalaryRate(caller, identity signer.Identity, newRate decimal.Decimal) error {
	if err := d.acl.Authorize(caller); err != nil {
		return err
	}
	if newRate.IsNegative() || !newRate.Equal(newRate.Truncate(0)) {
		return ErrInvalidTerms
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[identity]
	if !ok {
		return ErrNotFound
	}
	rec.SalaryPerSecond = newRate

	return nil
}

// Terminate clears the employed flag. The record itself stays so the
// identity's history and id remain visible; a later re-hire gets a new id.
func (d *Directory) Terminate(caller, identity signer.Identity) error {
	if err := d.acl.Authorize(caller); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[identity]
	if !ok || !rec.Employed {
		return ErrNotFound
	}
	rec.Employed = false

	return nil
}

// Read returns a copy of the record for identity.
func (d *Directory) Read(identity signer.Identity) (Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[identity]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *rec, nil
}

func (d *Directory) SalaryPerSecond(identity signer.Identity) (decimal.Decimal, error) {
	rec, err := d.Read(identity)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return rec.SalaryPerSecond, nil
}

func (d *Directory) MaxSessionSeconds(identity signer.Identity) (int64, error) {
	rec, err := d.Read(identity)
	if err != nil {
		return 0, err
	}
	return rec.MaxSessionSeconds, nil
}

func (d *Directory) IsEmployed(identity signer.Identity) bool {
	rec, err := d.Read(identity)
	return err == nil && rec.Employed
}

// Count returns the number of records held, employed or not.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}
