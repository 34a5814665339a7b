package domain

import "time"

// Default supervision policy. Thresholds mirror the service's long model
// warm-up: probes never count toward unhealthy inside the start delay.
const (
	DefaultFailureThreshold = 3
	DefaultStartDelay       = 2 * time.Minute
	DefaultRestartBudget    = 5
	DefaultBudgetWindow     = 10 * time.Minute
	DefaultFlapThreshold    = 3
	DefaultStableWindow     = 5 * time.Minute
	DefaultBackoffBase      = 2 * time.Second
	DefaultBackoffCap       = 5 * time.Minute
)

// MachineConfig parameterizes the per-instance supervision state machine.
type MachineConfig struct {
	FailureThreshold int           // consecutive failed probes before healthy -> unhealthy
	StartDelay       time.Duration // warm-up window during which failures are not counted
	RestartBudget    int           // max restarts inside BudgetWindow before terminal failed
	BudgetWindow     time.Duration
	FlapThreshold    int           // healthy->unhealthy cycles inside BudgetWindow before failed
	StableWindow     time.Duration // healthy this long clears restart and flap history
	BackoffBase      time.Duration // first restart backoff, doubled per attempt
	BackoffCap       time.Duration
}

func (c MachineConfig) withDefaults() MachineConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.StartDelay <= 0 {
		c.StartDelay = DefaultStartDelay
	}
	if c.RestartBudget <= 0 {
		c.RestartBudget = DefaultRestartBudget
	}
	if c.BudgetWindow <= 0 {
		c.BudgetWindow = DefaultBudgetWindow
	}
	if c.FlapThreshold <= 0 {
		c.FlapThreshold = DefaultFlapThreshold
	}
	if c.StableWindow <= 0 {
		c.StableWindow = DefaultStableWindow
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	return c
}

// Transition is the outcome of applying one observation to the machine.
// When Restart is set the supervisor must relaunch the process after
// waiting Backoff; when To is StateFailed the instance needs an operator.
type Transition struct {
	From    InstanceState
	To      InstanceState
	Cause   RestartCause
	Restart bool
	Backoff time.Duration
}

// Changed reports whether the observation moved the machine.
func (t Transition) Changed() bool { return t.From != t.To }

// Machine is the explicit tagged-state supervision machine:
//
//	starting -> healthy -> unhealthy -> restarting -> starting
//
// with terminal failed (restart budget or flap circuit-break) and stopped
// (clean exit or manual stop). It holds no process handles and performs no
// I/O; the supervisor drives it with observations.
type Machine struct {
	cfg MachineConfig

	state         InstanceState
	startedAt     time.Time // start of the current attempt
	becameHealthy time.Time
	consecutive   int
	restartCount  int
	lastHealth    HealthState
	lastCause     RestartCause

	restarts []time.Time // restart attempts inside the budget window
	flaps    []time.Time // healthy->unhealthy cycles inside the budget window
	window   []HealthRecord
}

// NewMachine creates a machine in the starting state.
func NewMachine(cfg MachineConfig, now time.Time) *Machine {
	return &Machine{
		cfg:        cfg.withDefaults(),
		state:      StateStarting,
		startedAt:  now,
		lastHealth: HealthUnknown,
	}
}

func (m *Machine) State() InstanceState     { return m.state }
func (m *Machine) LastHealth() HealthState  { return m.lastHealth }
func (m *Machine) LastCause() RestartCause  { return m.lastCause }
func (m *Machine) RestartCount() int        { return m.restartCount }
func (m *Machine) StartedAt() time.Time     { return m.startedAt }
func (m *Machine) Window() []HealthRecord   { return append([]HealthRecord(nil), m.window...) }

func (m *Machine) noop() Transition {
	return Transition{From: m.state, To: m.state}
}

// ObserveProbe applies one probe result. Probe results arriving while a
// restart is in flight (or after a terminal state) are ignored.
func (m *Machine) ObserveProbe(rec HealthRecord, now time.Time) Transition {
	if m.state == StateRestarting || m.state.Terminal() {
		return m.noop()
	}

	m.window = append(m.window, rec)
	if len(m.window) > m.cfg.FailureThreshold {
		m.window = m.window[len(m.window)-m.cfg.FailureThreshold:]
	}

	switch rec.Readiness {
	case ReadinessReady:
		return m.observeReady(now)
	case ReadinessLoading:
		// Within the start delay this is expected warm-up. Past the delay a
		// service stuck in loading counts toward the threshold, as does a
		// healthy instance regressing to loading.
		if m.state == StateStarting && now.Sub(m.startedAt) < m.cfg.StartDelay {
			return m.noop()
		}
		return m.observeFailure(now)
	default:
		if m.state == StateStarting && now.Sub(m.startedAt) < m.cfg.StartDelay {
			return m.noop()
		}
		return m.observeFailure(now)
	}
}

func (m *Machine) observeReady(now time.Time) Transition {
	m.consecutive = 0
	m.lastHealth = HealthHealthy

	if m.state == StateStarting {
		from := m.state
		m.state = StateHealthy
		m.becameHealthy = now
		return Transition{From: from, To: StateHealthy}
	}

	// Stable long enough: forget old crashes and flaps.
	if !m.becameHealthy.IsZero() && now.Sub(m.becameHealthy) >= m.cfg.StableWindow {
		m.restarts = nil
		m.flaps = nil
	}
	return m.noop()
}

func (m *Machine) observeFailure(now time.Time) Transition {
	m.consecutive++
	if m.consecutive < m.cfg.FailureThreshold {
		return m.noop()
	}

	// Threshold reached: exactly one transition to unhealthy, further
	// failures are absorbed by the restarting state.
	from := m.state
	if from == StateHealthy && now.Sub(m.becameHealthy) < m.cfg.StableWindow {
		m.flaps = append(m.flaps, now)
	}
	m.state = StateUnhealthy
	m.lastHealth = HealthUnhealthy
	return Transition{From: from, To: StateUnhealthy, Cause: CauseProbeFailure, Restart: true}
}

// ObserveExit applies a process exit. A zero exit code is a deliberate
// shutdown and is respected; anything else is a crash.
func (m *Machine) ObserveExit(exitCode int, now time.Time) Transition {
	if m.state == StateRestarting || m.state.Terminal() {
		return m.noop()
	}

	from := m.state
	if exitCode == 0 {
		m.state = StateStopped
		return Transition{From: from, To: StateStopped}
	}

	m.state = StateUnhealthy
	m.lastHealth = HealthUnhealthy
	return Transition{From: from, To: StateUnhealthy, Cause: CauseCrash, Restart: true}
}

// BeginRestart moves unhealthy (or a rebooted/manual instance) into
// restarting, enforcing the restart budget and the flap circuit-breaker.
// The returned Backoff must elapse before the relaunch.
func (m *Machine) BeginRestart(cause RestartCause, now time.Time) Transition {
	if m.state == StateRestarting || m.state == StateFailed {
		return m.noop()
	}

	from := m.state
	m.lastCause = cause
	m.pruneHistory(now)

	if len(m.flaps) >= m.cfg.FlapThreshold {
		m.state = StateFailed
		return Transition{From: from, To: StateFailed, Cause: cause}
	}
	if len(m.restarts) >= m.cfg.RestartBudget {
		m.state = StateFailed
		return Transition{From: from, To: StateFailed, Cause: cause}
	}

	m.restarts = append(m.restarts, now)
	m.state = StateRestarting
	return Transition{
		From:    from,
		To:      StateRestarting,
		Cause:   cause,
		Restart: true,
		Backoff: m.computeBackoff(),
	}
}

// RestartSucceeded moves restarting back to starting with a fresh warm-up
// window.
func (m *Machine) RestartSucceeded(now time.Time) Transition {
	if m.state != StateRestarting {
		return m.noop()
	}
	m.state = StateStarting
	m.startedAt = now
	m.consecutive = 0
	m.restartCount++
	m.lastHealth = HealthUnknown
	m.window = nil
	return Transition{From: StateRestarting, To: StateStarting}
}

// RestartFailed records a relaunch attempt that itself failed. The budget
// still applies; when exhausted the machine goes terminal.
func (m *Machine) RestartFailed(now time.Time) Transition {
	if m.state != StateRestarting {
		return m.noop()
	}

	m.pruneHistory(now)
	if len(m.restarts) >= m.cfg.RestartBudget {
		m.state = StateFailed
		return Transition{From: StateRestarting, To: StateFailed, Cause: m.lastCause}
	}

	m.restarts = append(m.restarts, now)
	return Transition{
		From:    StateRestarting,
		To:      StateRestarting,
		Cause:   m.lastCause,
		Restart: true,
		Backoff: m.computeBackoff(),
	}
}

// ManualStop moves any non-terminal state to stopped.
func (m *Machine) ManualStop() Transition {
	if m.state.Terminal() {
		return m.noop()
	}
	from := m.state
	m.state = StateStopped
	m.lastCause = CauseManual
	return Transition{From: from, To: StateStopped, Cause: CauseManual}
}

func (m *Machine) pruneHistory(now time.Time) {
	cutoff := now.Add(-m.cfg.BudgetWindow)
	m.restarts = pruneBefore(m.restarts, cutoff)
	m.flaps = pruneBefore(m.flaps, cutoff)
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// computeBackoff doubles per attempt in the current window, capped.
func (m *Machine) computeBackoff() time.Duration {
	shift := len(m.restarts) - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 10 {
		shift = 10
	}
	backoff := m.cfg.BackoffBase << uint(shift)
	if backoff > m.cfg.BackoffCap {
		backoff = m.cfg.BackoffCap
	}
	return backoff
}
