package dancer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"atlasauth/internal/kvstore"
	"atlasauth/internal/strategy"
	"atlasauth/pkg/logging"
)

const (
	// DefaultFlowExpiry is how long a remote flow may wait for its code.
	DefaultFlowExpiry = 10 * time.Minute

	remoteFlowPrefix = "oauth.remoteFlow."
)

// RemoteFlow is a pending remote authorization: the PKCE verifier waiting
// for the code that the out-of-process redirect will deliver.
type RemoteFlow struct {
	State     string                 `json:"state" yaml:"state"`
	Verifier  string                 `json:"verifier" yaml:"verifier"`
	Provider  strategy.OAuthProvider `json:"provider" yaml:"provider"`
	CreatedAt time.Time              `json:"createdAt" yaml:"createdAt"`
}

// RemoteFlowStore keeps pending remote flows in a kvstore.Store so the
// init and finish steps can run in different processes. Flows are single
// use and expire.
type RemoteFlowStore struct {
	mu     sync.Mutex
	store  kvstore.Store
	expiry time.Duration
	now    func() time.Time
}

// NewRemoteFlowStore creates a store; a zero expiry selects DefaultFlowExpiry.
func NewRemoteFlowStore(store kvstore.Store, expiry time.Duration) *RemoteFlowStore {
	if expiry <= 0 {
		expiry = DefaultFlowExpiry
	}
	return &RemoteFlowStore{store: store, expiry: expiry, now: time.Now}
}

func flowKey(state string) string {
	sum := sha256.Sum256([]byte(state))
	return remoteFlowPrefix + hex.EncodeToString(sum[:16])
}

// Put records flow, pruning expired flows first.
func (s *RemoteFlowStore) Put(flow RemoteFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = s.now()
	}
	if err := s.store.Set(flowKey(flow.State), flow); err != nil {
		return fmt.Errorf("failed to persist remote flow: %w", err)
	}
	return nil
}

// Take returns and deletes the flow for state. It reports false for
// unknown or expired states.
func (s *RemoteFlowStore) Take(state string) (RemoteFlow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := flowKey(state)
	var flow RemoteFlow
	found, err := s.store.Get(key, &flow)
	if err != nil {
		return RemoteFlow{}, false, fmt.Errorf("failed to read remote flow: %w", err)
	}
	if !found {
		logging.Warn("Dancer", "Remote flow not found for state")
		return RemoteFlow{}, false, nil
	}

	if err := s.store.Delete(key); err != nil {
		return RemoteFlow{}, false, fmt.Errorf("failed to delete remote flow: %w", err)
	}

	if flow.State != state {
		return RemoteFlow{}, false, nil
	}
	if age := s.now().Sub(flow.CreatedAt); age > s.expiry {
		logging.Warn("Dancer", "Remote flow expired: age=%v", age)
		return RemoteFlow{}, false, nil
	}
	return flow, true, nil
}

func (s *RemoteFlowStore) pruneLocked() {
	keys, err := s.store.Keys(remoteFlowPrefix)
	if err != nil {
		logging.Warn("Dancer", "Failed to list remote flows: %v", err)
		return
	}

	count := 0
	for _, key := range keys {
		var flow RemoteFlow
		if found, err := s.store.Get(key, &flow); err != nil || !found {
			continue
		}
		if s.now().Sub(flow.CreatedAt) > s.expiry {
			if err := s.store.Delete(key); err == nil {
				count++
			}
		}
	}
	if count > 0 {
		logging.Debug("Dancer", "Cleaned up %d expired remote flows", count)
	}
}
