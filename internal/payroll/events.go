package payroll

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/punchclock/engine/internal/directory"
	"github.com/punchclock/engine/pkg/messaging"
)

// Event publication happens after the state mutation commits. Publish
// failures are not surfaced to the caller: delivery is at-least-once and
// consumers de-duplicate by envelope id, so the engine never rolls back
// settled state over a lost event.

func (e *Engine) publishEmployee(ctx context.Context, subject string, rec directory.Record) {
	if e.publisher == nil {
		return
	}
	env, err := messaging.NewEnvelope(subject, e.now(), messaging.EmployeeEvent{
		Identity:          rec.Identity.String(),
		RecordID:          rec.ID,
		SalaryPerSecond:   rec.SalaryPerSecond.String(),
		MaxSessionSeconds: rec.MaxSessionSeconds,
	})
	if err != nil {
		return
	}
	_ = e.publisher.Publish(ctx, subject, env)
}

// publishSession is called after the lock is released; available is the
// post-mutation snapshot taken while it was still held.
func (e *Engine) publishSession(ctx context.Context, subject string, sess *Session, paid, remainder, available decimal.Decimal) {
	if e.publisher == nil {
		return
	}
	event := messaging.SessionEvent{
		Identity:  sess.Identity.String(),
		ChannelID: sess.Channel.ID(),
		Reserve:   sess.Reserve.String(),
		PunchInAt: sess.PunchInAt,
		ExpiresAt: sess.Channel.ExpiresAt(),
		Available: available.String(),
	}
	switch subject {
	case messaging.SubjectSessionSettled:
		event.Paid = paid.String()
		event.Remainder = remainder.String()
	case messaging.SubjectSessionTimedOut:
		event.Remainder = remainder.String()
	}

	env, err := messaging.NewEnvelope(subject, e.now(), event)
	if err != nil {
		return
	}
	_ = e.publisher.Publish(ctx, subject, env)
}

func (e *Engine) publishFunds(ctx context.Context, subject string, amount, balance, available decimal.Decimal) {
	if e.publisher == nil {
		return
	}
	env, err := messaging.NewEnvelope(subject, e.now(), messaging.FundsEvent{
		Amount:    amount.String(),
		Balance:   balance.String(),
		Available: available.String(),
	})
	if err != nil {
		return
	}
	_ = e.publisher.Publish(ctx, subject, env)
}
