package login

import (
	"sync"
	"time"

	"atlasauth/pkg/logging"
)

// LoginState is the step a login attempt is in.
type LoginState string

const (
	StateIdle                LoginState = "Idle"
	StateDancingOAuth        LoginState = "DancingOAuth"
	StateResourceEnrichment  LoginState = "ResourceEnrichment"
	StateFetchingUserProfile LoginState = "FetchingUserProfile"
	StatePersisting          LoginState = "Persisting"
	StateDone                LoginState = "Done"
	StateFailed              LoginState = "Failed"
)

// Terminal reports whether no further transition can follow s.
func (s LoginState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// AttemptKind names the login path an attempt took.
type AttemptKind string

const (
	AttemptOAuth       AttemptKind = "oauth"
	AttemptRemoteOAuth AttemptKind = "remote-oauth"
	AttemptServer      AttemptKind = "server"
	AttemptGitToken    AttemptKind = "git-token"
)

// Attempt is a snapshot of one login attempt.
type Attempt struct {
	ID         uint64
	Kind       AttemptKind
	Host       string
	State      LoginState
	History    []LoginState
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// StateChangeCallback is called after every transition of an attempt.
type StateChangeCallback func(attempt Attempt, oldState, newState LoginState)

// attempt is the mutable record behind an Attempt snapshot.
type attempt struct {
	mu       sync.Mutex
	snapshot Attempt
	callback StateChangeCallback
}

func (a *attempt) transition(newState LoginState, err error) {
	a.mu.Lock()
	if a.snapshot.State.Terminal() {
		a.mu.Unlock()
		return
	}
	oldState := a.snapshot.State
	a.snapshot.State = newState
	a.snapshot.History = append(a.snapshot.History, newState)
	if err != nil {
		a.snapshot.Err = err
	}
	if newState.Terminal() {
		a.snapshot.FinishedAt = time.Now()
	}
	snap := a.copyLocked()
	callback := a.callback
	a.mu.Unlock()

	if err != nil {
		logging.Debug("Login", "Attempt %d (%s %s): %s -> %s: %v", snap.ID, snap.Kind, snap.Host, oldState, newState, err)
	} else {
		logging.Debug("Login", "Attempt %d (%s %s): %s -> %s", snap.ID, snap.Kind, snap.Host, oldState, newState)
	}

	if callback != nil {
		callback(snap, oldState, newState)
	}
}

func (a *attempt) fail(err error) error {
	a.transition(StateFailed, err)
	return err
}

func (a *attempt) copyLocked() Attempt {
	snap := a.snapshot
	snap.History = append([]LoginState(nil), a.snapshot.History...)
	return snap
}

func (a *attempt) get() Attempt {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyLocked()
}
