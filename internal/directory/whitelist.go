package directory

import (
	"sync"

	"github.com/punchclock/engine/internal/signer"
)

// Whitelist is the single access policy consulted by every mutating
// directory operation. Membership is mutable only by existing members;
// the owner passed at construction bootstraps the set.
type Whitelist struct {
	mu      sync.RWMutex
	members map[signer.Identity]struct{}
}

func NewWhitelist(owner signer.Identity) *Whitelist {
	return &Whitelist{
		members: map[signer.Identity]struct{}{owner: {}},
	}
}

// Authorize returns ErrUnauthorized unless caller is a member.
func (w *Whitelist) Authorize(caller signer.Identity) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if _, ok := w.members[caller]; !ok {
		return ErrUnauthorized
	}
	return nil
}

// Add grants identity membership. Only existing members may grow the set.
func (w *Whitelist) Add(caller, identity signer.Identity) error {
	if err := w.Authorize(caller); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.members[identity] = struct{}{}

	return nil
}

func (w *Whitelist) Contains(identity signer.Identity) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	_, ok := w.members[identity]
	return ok
}
