package reconcile

import (
	"sync"
	"time"

	"github.com/shipgate/shipgate/internal/domain"
)

// State identifies a reconciliation phase.
type State string

// Reconciliation states. Remote-confirmed states are authoritative; the
// local states are a time-bounded optimistic guess used while the executor
// cannot be observed.
const (
	StateIdle                State = "idle"
	StateLocallyTriggered    State = "locally_triggered"
	StateRemoteRunning       State = "remote_running"
	StateLocalFallback       State = "local_fallback"
	StateRemoteComplete      State = "remote_complete"
	StateLocalTimeoutExpired State = "local_timeout_expired"
)

// DefaultIntentTTL bounds how long a trigger is trusted without any
// authoritative confirmation.
const DefaultIntentTTL = 120 * time.Second

// Outcome is the public status derived from one observation.
type Outcome struct {
	State   State
	Running bool
	// Completed fires exactly once per distinct deployed SHA change.
	Completed    bool
	CompletedSHA string
	// Expired is set when the local intent outlived its TTL with no
	// authoritative confirmation. No completion signal accompanies it.
	Expired bool
}

// Machine merges authoritative remote state with the local promotion intent
// into one public status. Transitions are a function of (remote snapshot,
// stored intent, now); no network access happens here.
type Machine struct {
	mu               sync.Mutex
	state            State
	intent           *domain.PromotionIntent
	runBaselineSHA   string
	lastCompletedSHA string
	ttl              time.Duration
}

// NewMachine returns an idle machine. A non-positive ttl selects the default.
func NewMachine(ttl time.Duration) *Machine {
	if ttl <= 0 {
		ttl = DefaultIntentTTL
	}
	return &Machine{state: StateIdle, ttl: ttl}
}

// Trigger records an accepted promotion. Call only after the gateway
// acknowledged the trigger; an ambiguous response must not seed intent.
func (m *Machine) Trigger(intent domain.PromotionIntent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intent = &intent
	m.state = StateLocallyTriggered
}

// Intent returns a copy of the current intent, if any.
func (m *Machine) Intent() (domain.PromotionIntent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.intent == nil {
		return domain.PromotionIntent{}, false
	}
	return *m.intent, true
}

// State returns the current reconciliation state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Observe folds one remote snapshot into the machine and derives the public
// status. A snapshot with Error set downgrades to the local fallback; it is
// never treated as a job failure because the remote job may still be running.
func (m *Machine) Observe(remote domain.RemoteStatus, now time.Time) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if remote.Error != "" {
		return m.observeUnavailable(now)
	}
	return m.observeAuthoritative(remote, now)
}

func (m *Machine) observeUnavailable(now time.Time) Outcome {
	if m.intent == nil {
		m.state = StateIdle
		return Outcome{State: m.state}
	}
	if m.intent.Expired(now, m.ttl) {
		// TTL elapsed without authoritative confirmation: clear the intent
		// and fire no completion signal.
		m.intent = nil
		m.state = StateIdle
		return Outcome{State: StateLocalTimeoutExpired, Expired: true}
	}
	m.state = StateLocalFallback
	return Outcome{State: m.state, Running: true}
}

func (m *Machine) observeAuthoritative(remote domain.RemoteStatus, now time.Time) Outcome {
	if remote.InProgress {
		// Authoritative running state wins regardless of local intent; a
		// promotion may have been triggered by another control plane.
		if m.state != StateRemoteRunning {
			// While the run is in flight the ledger still holds the
			// pre-trigger SHA; remember it to detect the change later.
			m.runBaselineSHA = remote.DeployedSHA
			if m.intent != nil {
				m.runBaselineSHA = m.intent.PreTriggerSHA
			}
		}
		m.state = StateRemoteRunning
		return Outcome{State: m.state, Running: true}
	}

	if m.completionObserved(remote) {
		sha := remote.DeployedSHA
		m.lastCompletedSHA = sha
		m.intent = nil
		m.state = StateIdle
		return Outcome{State: StateRemoteComplete, Completed: true, CompletedSHA: sha}
	}

	switch m.state {
	case StateRemoteRunning:
		// The run ended without a ledger change: the remote job failed.
		// Keep optimism out of it and settle back to idle.
		m.intent = nil
		m.state = StateIdle
		return Outcome{State: m.state}
	case StateLocallyTriggered, StateLocalFallback:
		if m.intent == nil || m.intent.Expired(now, m.ttl) {
			m.intent = nil
			m.state = StateIdle
			return Outcome{State: StateLocalTimeoutExpired, Expired: true}
		}
		// The executor has not picked the trigger up yet; stay optimistic
		// within the TTL.
		m.state = StateLocallyTriggered
		return Outcome{State: m.state, Running: true}
	default:
		m.state = StateIdle
		return Outcome{State: m.state}
	}
}

// completionObserved requires a run to have been seen (or locally triggered)
// and the deployed SHA to have moved past the pre-trigger value, deduplicated
// by the last SHA that already fired a signal.
func (m *Machine) completionObserved(remote domain.RemoteStatus) bool {
	if remote.DeployedSHA == "" || remote.DeployedSHA == m.lastCompletedSHA {
		return false
	}
	switch m.state {
	case StateRemoteRunning:
		return remote.DeployedSHA != m.runBaselineSHA
	case StateLocallyTriggered, StateLocalFallback:
		// A fast run can finish between polls; the ledger moving past the
		// pre-trigger SHA is still an authoritative completion.
		return m.intent != nil && remote.DeployedSHA != m.intent.PreTriggerSHA
	default:
		return false
	}
}
