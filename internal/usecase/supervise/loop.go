package supervise

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// loop is the per-instance control loop. Probing, restart decisions and the
// restarts themselves all run on this single goroutine, so at most one
// restart is ever in flight and probe results arriving mid-restart are
// never observed.
type loop struct {
	svc *Service

	name         string
	imageRef     string
	containerID  string
	baseRestarts int // restarts carried over from before this daemon run

	mu        sync.Mutex
	machine   *domain.Machine
	bootCause domain.RestartCause // attribution for a bootstrap relaunch

	restartCh chan struct{}
	stopCh    chan struct{}
	stopped   chan struct{}
	haltOnce  sync.Once
}

func newLoop(svc *Service, inst *domain.Instance, machine *domain.Machine) *loop {
	return &loop{
		svc:          svc,
		name:         inst.Name,
		imageRef:     inst.ImageRef,
		containerID:  inst.ContainerID,
		baseRestarts: inst.RestartCount,
		machine:      machine,
		restartCh:    make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// halt stops the loop goroutine. It also preempts a backoff wait in
// progress.
func (l *loop) halt() {
	l.haltOnce.Do(func() { close(l.stopCh) })
	<-l.stopped
}

// requestRestart queues a manual restart cycle.
func (l *loop) requestRestart() error {
	select {
	case l.restartCh <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("restart already pending for %s", l.name)
	}
}

// causeOverride stamps the cause for persisted records and status until
// the machine records one of its own, used by bootstrap to attribute the
// relaunch.
func (l *loop) causeOverride(cause domain.RestartCause) {
	l.mu.Lock()
	l.bootCause = cause
	l.mu.Unlock()
}

// lastCause must be called with l.mu held.
func (l *loop) lastCause() domain.RestartCause {
	if c := l.machine.LastCause(); c != "" {
		return c
	}
	return l.bootCause
}

func (l *loop) status() *domain.InstanceStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &domain.InstanceStatus{
		Name:         l.name,
		State:        l.machine.State(),
		RestartCount: l.baseRestarts + l.machine.RestartCount(),
		LastHealth:   l.machine.LastHealth(),
		LastCause:    l.lastCause(),
		ContainerID:  l.containerID,
		ImageRef:     l.imageRef,
		StartedAt:    l.machine.StartedAt(),
	}
}

func (l *loop) run(ctx context.Context) {
	defer close(l.stopped)

	log := zerowrap.Logger{Logger: l.svc.log.With().
		Str(zerowrap.FieldUseCase, "supervise").
		Str("instance", l.name).
		Logger()}

	ticker := time.NewTicker(l.svc.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.restartCh:
			tr := l.beginRestart(domain.CauseManual)
			if !l.handleRestartTransition(ctx, log, tr) {
				return
			}
		case <-ticker.C:
			tr := l.observe(ctx, log)
			if tr.Restart {
				tr = l.beginRestart(tr.Cause)
			}
			if !l.handleRestartTransition(ctx, log, tr) {
				return
			}
		}
	}
}

// observe runs one probe (or exit check) and feeds the machine.
func (l *loop) observe(ctx context.Context, log zerowrap.Logger) domain.Transition {
	now := time.Now()

	c, err := l.svc.runtime.InspectContainer(ctx, l.containerID)
	if err != nil {
		log.Debug().Err(err).Msg("inspect failed, counting as probe failure")
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.machine.ObserveProbe(domain.HealthRecord{
			Timestamp: now,
			Readiness: domain.ReadinessBroken,
			Detail:    err.Error(),
		}, now)
	}

	if !c.Running() {
		l.mu.Lock()
		tr := l.machine.ObserveExit(c.ExitCode, now)
		l.mu.Unlock()
		if tr.Changed() {
			log.Warn().Int("exit_code", c.ExitCode).Str("to", string(tr.To)).Msg("instance process exited")
			l.svc.persist(ctx, l)
		}
		if tr.To == domain.StateStopped {
			// Deliberate exit; respect it and end supervision.
			l.svc.dropLoop(l)
			return domain.Transition{From: tr.From, To: tr.To}
		}
		return tr
	}

	probeStart := time.Now()
	rec, perr := l.svc.prober.Probe(ctx, l.svc.probeURL())
	if l.svc.metrics != nil {
		l.svc.metrics.ProbeDuration.Record(ctx, time.Since(probeStart).Seconds())
	}
	if perr != nil {
		log.Debug().Err(perr).Msg("probe failed")
		if l.svc.metrics != nil {
			l.svc.metrics.ProbeFailures.Add(ctx, 1)
		}
	}

	l.mu.Lock()
	prev := l.machine.State()
	tr := l.machine.ObserveProbe(rec, time.Now())
	l.mu.Unlock()

	if tr.Changed() {
		log.Info().
			Str("from", string(tr.From)).
			Str("to", string(tr.To)).
			Str("readiness", string(rec.Readiness)).
			Msg("instance state changed")
		l.svc.persist(ctx, l)
		if prev == domain.StateStarting && tr.To == domain.StateHealthy {
			_ = l.svc.bus.Publish(domain.EventInstanceHealthy, domain.InstancePayload{
				Name: l.name, ContainerID: l.containerID, State: domain.StateHealthy,
			})
		}
		if tr.To == domain.StateUnhealthy {
			_ = l.svc.bus.Publish(domain.EventInstanceUnhealthy, domain.InstancePayload{
				Name: l.name, ContainerID: l.containerID, State: domain.StateUnhealthy, Cause: tr.Cause,
			})
		}
	}
	return tr
}

func (l *loop) beginRestart(cause domain.RestartCause) domain.Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.machine.BeginRestart(cause, time.Now())
}

// handleRestartTransition performs the restart cycle a transition asks for.
// It returns false when the loop must exit (terminal state).
func (l *loop) handleRestartTransition(ctx context.Context, log zerowrap.Logger, tr domain.Transition) bool {
	switch {
	case tr.To == domain.StateFailed:
		l.goFailed(ctx, log, tr.Cause)
		return false
	case tr.To == domain.StateStopped && tr.Changed():
		return false
	case tr.To != domain.StateRestarting || !tr.Restart:
		return true
	}

	for {
		log.Warn().
			Str("cause", string(tr.Cause)).
			Dur("backoff", tr.Backoff).
			Msg("restarting instance")

		// Backoff wait, preemptable by manual stop.
		select {
		case <-l.stopCh:
			return false
		case <-time.After(tr.Backoff):
		}

		if err := l.relaunch(ctx); err != nil {
			log.Error().Err(err).Msg("relaunch failed")
			l.mu.Lock()
			tr = l.machine.RestartFailed(time.Now())
			l.mu.Unlock()
			if tr.To == domain.StateFailed {
				l.goFailed(ctx, log, tr.Cause)
				return false
			}
			continue
		}

		l.mu.Lock()
		l.machine.RestartSucceeded(time.Now())
		restarts := l.baseRestarts + l.machine.RestartCount()
		l.mu.Unlock()

		l.svc.persist(ctx, l)
		_ = l.svc.bus.Publish(domain.EventInstanceRestarted, domain.InstancePayload{
			Name:        l.name,
			ContainerID: l.containerID,
			State:       domain.StateStarting,
			Cause:       tr.Cause,
			Restarts:    restarts,
		})
		if l.svc.metrics != nil {
			l.svc.metrics.InstanceRestarts.Add(ctx, 1)
		}
		log.Info().Int("restart_count", restarts).Msg("instance restarted")
		return true
	}
}

// relaunch bounces the container.
func (l *loop) relaunch(ctx context.Context) error {
	if err := l.svc.runtime.StopContainer(ctx, l.containerID); err != nil {
		// Already dead is fine; the start below decides.
		l.svc.log.Debug().Err(err).Str("instance", l.name).Msg("stop before relaunch failed")
	}
	return l.svc.runtime.StartContainer(ctx, l.containerID)
}

func (l *loop) goFailed(ctx context.Context, log zerowrap.Logger, cause domain.RestartCause) {
	// Failed is terminal: without this stop the engine's restart policy
	// would keep relaunching the crashing process unsupervised.
	if err := l.svc.runtime.StopContainer(ctx, l.containerID); err != nil {
		log.Warn().Err(err).Msg("failed to stop container of failed instance")
	}
	if tail := l.svc.tailLogs(ctx, l.containerID); tail != "" {
		log.Error().Str("last_output", tail).Msg("final container output before failure")
	}

	l.svc.persist(ctx, l)
	l.svc.dropLoop(l)

	_ = l.svc.bus.Publish(domain.EventInstanceFailed, domain.InstancePayload{
		Name:        l.name,
		ContainerID: l.containerID,
		State:       domain.StateFailed,
		Cause:       cause,
	})
	if l.svc.metrics != nil {
		l.svc.metrics.InstanceCrashLoops.Add(ctx, 1)
		l.svc.metrics.SupervisedCount.Add(ctx, -1)
	}
	log.Error().
		Str("cause", string(cause)).
		Msg("restart budget exhausted, instance failed; operator intervention required")
}
