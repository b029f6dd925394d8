package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event subjects. Delivery is at-least-once; consumers that keep
// a persistent log must de-duplicate by the envelope id.
const (
	SubjectEmployeeHired      = "payroll.employee.hired"
	SubjectEmployeeTerminated = "payroll.employee.terminated"

	SubjectSessionOpened   = "payroll.session.opened"
	SubjectSessionSettled  = "payroll.session.settled"
	SubjectSessionTimedOut = "payroll.session.timed_out"

	SubjectFundsDeposited = "payroll.funds.deposited"
	SubjectFundsWithdrawn = "payroll.funds.withdrawn"

	// SubjectAll matches every engine lifecycle event.
	SubjectAll = "payroll.>"
)

// Envelope is the wire form of every lifecycle event. ID is the unique
// settlement/transaction reference consumers de-duplicate on.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope wraps a payload for publication.
func NewEnvelope(eventType string, at time.Time, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return Envelope{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: at,
		Data:      data,
	}, nil
}

// EmployeeEvent is the payload for hire and terminate events.
type EmployeeEvent struct {
	Identity          string `json:"identity"`
	RecordID          int64  `json:"record_id,omitempty"`
	SalaryPerSecond   string `json:"salary_per_second,omitempty"`
	MaxSessionSeconds int64  `json:"max_session_seconds,omitempty"`
}

// SessionEvent is the payload for session open, settle and timeout events.
type SessionEvent struct {
	Identity  string    `json:"identity"`
	ChannelID uuid.UUID `json:"channel_id"`
	Reserve   string    `json:"reserve"`
	Paid      string    `json:"paid,omitempty"`
	Remainder string    `json:"remainder,omitempty"`
	PunchInAt time.Time `json:"punch_in_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Available string    `json:"available"`
}

// FundsEvent is the payload for deposit and withdrawal events.
type FundsEvent struct {
	Amount    string `json:"amount"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
}
