package alerts

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/punchclock/engine/pkg/messaging"
)

// Alert reports the employer's available balance dropping under the floor.
type Alert struct {
	Available decimal.Decimal
	Floor     decimal.Decimal
	At        time.Time
}

// Watcher consumes funds and session lifecycle events and raises an alert
// when the available balance (balance net of reservations) falls under the
// configured floor. It re-arms once the balance recovers, so a sustained
// low balance produces one alert, not one per event.
type Watcher struct {
	floor decimal.Decimal
	onLow func(Alert)

	mu        sync.Mutex
	available decimal.Decimal
	seen      map[string]struct{}
	seenOrder []string
	tripped   bool
}

// maxSeenEnvelopes bounds the replay-detection window. Broker redeliveries
// arrive close to the original, so evicting the oldest ids keeps the map
// from growing with process lifetime without losing useful de-duplication.
const maxSeenEnvelopes = 4096

func NewWatcher(floor decimal.Decimal, onLow func(Alert)) *Watcher {
	return &Watcher{
		floor: floor,
		onLow: onLow,
		seen:  make(map[string]struct{}),
	}
}

// Listen subscribes the watcher to the engine's lifecycle subjects.
func (w *Watcher) Listen(client *messaging.Client) error {
	subjects := []string{
		messaging.SubjectFundsDeposited,
		messaging.SubjectFundsWithdrawn,
		messaging.SubjectSessionOpened,
		messaging.SubjectSessionSettled,
		messaging.SubjectSessionTimedOut,
	}
	for _, subject := range subjects {
		if err := client.Subscribe(subject, w.handle); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) handle(msg *nats.Msg) {
	var env messaging.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return
	}

	available, ok := availableFrom(env)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Delivery is at-least-once; drop replays by envelope id.
	id := env.ID.String()
	if _, dup := w.seen[id]; dup {
		return
	}
	w.seen[id] = struct{}{}
	w.seenOrder = append(w.seenOrder, id)
	if len(w.seenOrder) > maxSeenEnvelopes {
		delete(w.seen, w.seenOrder[0])
		w.seenOrder = w.seenOrder[1:]
	}

	w.available = available
	if available.LessThan(w.floor) {
		if !w.tripped {
			w.tripped = true
			if w.onLow != nil {
				w.onLow(Alert{Available: available, Floor: w.floor, At: env.Timestamp})
			}
		}
		return
	}
	w.tripped = false
}

// Available returns the last observed available balance.
func (w *Watcher) Available() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.available
}

func availableFrom(env messaging.Envelope) (decimal.Decimal, bool) {
	switch env.Type {
	case messaging.SubjectFundsDeposited, messaging.SubjectFundsWithdrawn:
		var event messaging.FundsEvent
		if json.Unmarshal(env.Data, &event) != nil {
			return decimal.Decimal{}, false
		}
		available, err := decimal.NewFromString(event.Available)
		return available, err == nil
	case messaging.SubjectSessionOpened, messaging.SubjectSessionSettled, messaging.SubjectSessionTimedOut:
		var event messaging.SessionEvent
		if json.Unmarshal(env.Data, &event) != nil {
			return decimal.Decimal{}, false
		}
		available, err := decimal.NewFromString(event.Available)
		return available, err == nil
	default:
		return decimal.Decimal{}, false
	}
}
