// Package supervise implements the process supervisor: one control loop
// per instance, probe-driven restarts, and desired-state persistence.
package supervise

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/appayureze-cloud/aiastra/internal/adapters/out/telemetry"
	"github.com/appayureze-cloud/aiastra/internal/boundaries/in"
	"github.com/appayureze-cloud/aiastra/internal/boundaries/out"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

var _ in.SupervisorService = (*Service)(nil)

// Config holds supervisor configuration.
type Config struct {
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"` // per-attempt probe deadline
	ProbePath        string        `mapstructure:"probe_path"`
	BackendPort      int           `mapstructure:"backend_port"`   // loopback host port published per instance
	ContainerPort    int           `mapstructure:"container_port"` // application port inside the container
	StartDelay       time.Duration `mapstructure:"start_delay"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RestartBudget    int           `mapstructure:"restart_budget"`
	BudgetWindow     time.Duration `mapstructure:"budget_window"`
	FlapThreshold    int           `mapstructure:"flap_threshold"`
	StableWindow     time.Duration `mapstructure:"stable_window"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffCap       time.Duration `mapstructure:"backoff_cap"`
	Env              []string      `mapstructure:"env"` // passed through to the container at start
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 15 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.ProbePath == "" {
		c.ProbePath = "/health"
	}
	if c.BackendPort == 0 {
		c.BackendPort = 8000
	}
	if c.ContainerPort == 0 {
		c.ContainerPort = 8000
	}
	return c
}

func (c Config) machineConfig() domain.MachineConfig {
	return domain.MachineConfig{
		FailureThreshold: c.FailureThreshold,
		StartDelay:       c.StartDelay,
		RestartBudget:    c.RestartBudget,
		BudgetWindow:     c.BudgetWindow,
		FlapThreshold:    c.FlapThreshold,
		StableWindow:     c.StableWindow,
		BackoffBase:      c.BackoffBase,
		BackoffCap:       c.BackoffCap,
	}
}

// managedLabel marks containers owned by this supervisor.
const managedLabel = "aiastra.managed"

// Service implements the SupervisorService interface.
type Service struct {
	cfg     Config
	runtime out.ContainerRuntime
	prober  out.Prober
	store   out.StateStore
	bus     out.EventPublisher
	metrics *telemetry.Metrics
	log     zerowrap.Logger

	mu    sync.RWMutex
	loops map[string]*loop
}

// NewService creates the supervisor.
func NewService(cfg Config, runtime out.ContainerRuntime, prober out.Prober, store out.StateStore, bus out.EventPublisher, metrics *telemetry.Metrics, log zerowrap.Logger) *Service {
	return &Service{
		cfg:     cfg.WithDefaults(),
		runtime: runtime,
		prober:  prober,
		store:   store,
		bus:     bus,
		metrics: metrics,
		log:     log,
		loops:   make(map[string]*loop),
	}
}

// Deploy launches (or replaces) the named instance from an image and begins
// supervising it.
func (s *Service) Deploy(ctx context.Context, name, imageRef string) (*domain.Instance, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "supervise",
		zerowrap.FieldAction:  "Deploy",
		"instance":            name,
		"image":               imageRef,
	})
	log := zerowrap.FromCtx(ctx)

	// Replace an existing instance wholesale: a new image is always a new
	// container, never an in-place patch.
	if existing := s.takeLoop(name); existing != nil {
		existing.halt()
		_ = s.runtime.StopContainer(ctx, existing.containerID)
		_ = s.runtime.RemoveContainer(ctx, existing.containerID, true)
	}

	created, err := s.runtime.CreateContainer(ctx, &domain.ContainerConfig{
		Name:          name,
		Image:         imageRef,
		Env:           s.cfg.Env,
		HostPort:      s.cfg.BackendPort,
		ContainerPort: s.cfg.ContainerPort,
		Labels:        map[string]string{managedLabel: "true"},
		AutoRestart:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create instance %s: %w", name, err)
	}

	if err := s.runtime.StartContainer(ctx, created.ID); err != nil {
		_ = s.runtime.RemoveContainer(ctx, created.ID, true)
		return nil, fmt.Errorf("failed to start instance %s: %w", name, err)
	}

	now := time.Now()
	inst := &domain.Instance{
		Name:        name,
		ContainerID: created.ID,
		ImageRef:    imageRef,
		StartedAt:   now,
		State:       domain.StateStarting,
		LastHealth:  domain.HealthUnknown,
	}

	l := s.startLoop(ctx, inst, domain.NewMachine(s.cfg.machineConfig(), now))
	s.persist(ctx, l)

	_ = s.bus.Publish(domain.EventInstanceStarted, domain.InstancePayload{
		Name:        name,
		ContainerID: created.ID,
		State:       domain.StateStarting,
	})
	if s.metrics != nil {
		s.metrics.SupervisedCount.Add(ctx, 1)
	}
	log.Info().Str(zerowrap.FieldEntityID, created.ID).Msg("instance deployed")

	return inst, nil
}

// Stop performs a manual stop: the desired state becomes stopped, any
// in-flight restart backoff is preempted, and the process is shut down.
func (s *Service) Stop(ctx context.Context, name string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "supervise",
		zerowrap.FieldAction:  "Stop",
		"instance":            name,
	})
	log := zerowrap.FromCtx(ctx)

	l := s.takeLoop(name)
	if l == nil {
		return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, name)
	}

	l.halt()
	l.mu.Lock()
	l.machine.ManualStop()
	l.mu.Unlock()

	if err := s.runtime.StopContainer(ctx, l.containerID); err != nil {
		log.Warn().Err(err).Msg("failed to stop container during manual stop")
	}

	s.persist(ctx, l)
	_ = s.bus.Publish(domain.EventInstanceStopped, domain.InstancePayload{
		Name:        name,
		ContainerID: l.containerID,
		State:       domain.StateStopped,
		Cause:       domain.CauseManual,
	})
	if s.metrics != nil {
		s.metrics.SupervisedCount.Add(ctx, -1)
	}
	log.Info().Str("cause", string(domain.CauseManual)).Msg("instance stopped")
	return nil
}

// Restart forces a supervised restart cycle regardless of health.
func (s *Service) Restart(_ context.Context, name string) error {
	s.mu.RLock()
	l := s.loops[name]
	s.mu.RUnlock()
	if l == nil {
		return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, name)
	}
	return l.requestRestart()
}

// Status reports the supervisor's view of one instance. Terminal instances
// with no live loop are read from the state store.
func (s *Service) Status(ctx context.Context, name string) (*domain.InstanceStatus, error) {
	s.mu.RLock()
	l := s.loops[name]
	s.mu.RUnlock()

	if l != nil {
		return l.status(), nil
	}

	rec, err := s.store.LoadInstance(ctx, name)
	if err != nil {
		return nil, err
	}
	return statusFromRecord(rec), nil
}

// List reports all known instances, live loops first over persisted state.
func (s *Service) List(ctx context.Context) ([]*domain.InstanceStatus, error) {
	seen := make(map[string]*domain.InstanceStatus)

	s.mu.RLock()
	for name, l := range s.loops {
		seen[name] = l.status()
	}
	s.mu.RUnlock()

	records, err := s.store.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if _, ok := seen[rec.Name]; !ok {
			seen[rec.Name] = statusFromRecord(rec)
		}
	}

	statuses := make([]*domain.InstanceStatus, 0, len(seen))
	for _, st := range seen {
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses, nil
}

// Bootstrap reconciles persisted desired state with the runtime after a
// daemon or host restart. Records that should be running are relaunched
// with cause host-reboot; stopped and failed records are not relaunched,
// and any container of theirs the engine resurrected is shut down again.
func (s *Service) Bootstrap(ctx context.Context) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "supervise",
		zerowrap.FieldAction:  "Bootstrap",
	})
	log := zerowrap.FromCtx(ctx)

	records, err := s.store.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted instances: %w", err)
	}

	for _, rec := range records {
		if rec.State.Terminal() {
			log.Debug().Str("instance", rec.Name).Str("state", string(rec.State)).Msg("terminal instance stays down")
			s.quiesceTerminal(ctx, rec)
			continue
		}
		if err := s.recoverInstance(ctx, rec); err != nil {
			log.Error().Err(err).Str("instance", rec.Name).Msg("failed to recover instance")
		}
	}

	s.reapOrphans(ctx, records)
	return nil
}

// quiesceTerminal enforces a terminal record against the runtime: a stopped
// or failed instance whose container came back with the engine is stopped
// again, unsupervised processes must not serve traffic.
func (s *Service) quiesceTerminal(ctx context.Context, rec out.InstanceRecord) {
	if rec.ContainerID == "" {
		return
	}
	log := zerowrap.FromCtx(ctx)

	c, err := s.runtime.InspectContainer(ctx, rec.ContainerID)
	if err != nil || !c.Running() {
		return
	}
	log.Warn().
		Str("instance", rec.Name).
		Str("state", string(rec.State)).
		Msg("terminal instance found running, stopping it")
	if err := s.runtime.StopContainer(ctx, rec.ContainerID); err != nil {
		log.Error().Err(err).Str("instance", rec.Name).Msg("failed to stop terminal instance container")
	}
}

// reapOrphans removes managed containers with no persisted record. Nothing
// supervises them and nothing would ever stop them.
func (s *Service) reapOrphans(ctx context.Context, records []out.InstanceRecord) {
	log := zerowrap.FromCtx(ctx)

	containers, err := s.runtime.ListContainers(ctx, true)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list containers for orphan sweep")
		return
	}

	known := make(map[string]bool, len(records))
	for _, rec := range records {
		known[rec.ContainerID] = true
	}

	for _, c := range containers {
		if c.Labels[managedLabel] != "true" || known[c.ID] {
			continue
		}
		log.Warn().
			Str(zerowrap.FieldEntityID, c.ID).
			Str("name", c.Name).
			Msg("removing orphaned managed container")
		_ = s.runtime.StopContainer(ctx, c.ID)
		_ = s.runtime.RemoveContainer(ctx, c.ID, true)
	}
}

func (s *Service) recoverInstance(ctx context.Context, rec out.InstanceRecord) error {
	log := zerowrap.FromCtx(ctx)
	now := time.Now()

	machine := domain.NewMachine(s.cfg.machineConfig(), now)

	c, err := s.runtime.InspectContainer(ctx, rec.ContainerID)
	if err == nil && c.Running() {
		// The engine's restart policy already brought it back; just resume
		// supervision.
		inst := &domain.Instance{
			Name:         rec.Name,
			ContainerID:  rec.ContainerID,
			ImageRef:     rec.ImageRef,
			StartedAt:    now,
			RestartCount: rec.RestartCount,
			State:        domain.StateStarting,
			LastHealth:   domain.HealthUnknown,
		}
		l := s.startLoop(ctx, inst, machine)
		s.persist(ctx, l)
		log.Info().Str("instance", rec.Name).Msg("reattached to running instance")
		return nil
	}

	// Container is gone or stopped: relaunch from the recorded image.
	if rec.ContainerID != "" {
		_ = s.runtime.RemoveContainer(ctx, rec.ContainerID, true)
	}

	created, err := s.runtime.CreateContainer(ctx, &domain.ContainerConfig{
		Name:          rec.Name,
		Image:         rec.ImageRef,
		Env:           s.cfg.Env,
		HostPort:      s.cfg.BackendPort,
		ContainerPort: s.cfg.ContainerPort,
		Labels:        map[string]string{managedLabel: "true"},
		AutoRestart:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to recreate instance %s: %w", rec.Name, err)
	}
	if err := s.runtime.StartContainer(ctx, created.ID); err != nil {
		return fmt.Errorf("failed to relaunch instance %s: %w", rec.Name, err)
	}

	inst := &domain.Instance{
		Name:         rec.Name,
		ContainerID:  created.ID,
		ImageRef:     rec.ImageRef,
		StartedAt:    now,
		RestartCount: rec.RestartCount + 1,
		State:        domain.StateStarting,
		LastHealth:   domain.HealthUnknown,
	}
	l := s.startLoop(ctx, inst, machine)
	l.causeOverride(domain.CauseHostReboot)
	s.persist(ctx, l)

	_ = s.bus.Publish(domain.EventInstanceRestarted, domain.InstancePayload{
		Name:        rec.Name,
		ContainerID: created.ID,
		State:       domain.StateStarting,
		Cause:       domain.CauseHostReboot,
		Restarts:    inst.RestartCount,
	})
	if s.metrics != nil {
		s.metrics.InstanceRestarts.Add(ctx, 1)
	}
	log.Info().
		Str("instance", rec.Name).
		Str("cause", string(domain.CauseHostReboot)).
		Msg("instance relaunched after host restart")
	return nil
}

// Shutdown stops supervision loops without stopping the processes.
func (s *Service) Shutdown(_ context.Context) error {
	s.mu.Lock()
	loops := make([]*loop, 0, len(s.loops))
	for _, l := range s.loops {
		loops = append(loops, l)
	}
	s.loops = make(map[string]*loop)
	s.mu.Unlock()

	for _, l := range loops {
		l.halt()
	}
	s.log.Info().Int("instances", len(loops)).Msg("supervisor shut down")
	return nil
}

// Window returns the rolling probe window for an instance.
func (s *Service) Window(name string) ([]domain.HealthRecord, error) {
	s.mu.RLock()
	l := s.loops[name]
	s.mu.RUnlock()
	if l == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.machine.Window(), nil
}

// ProbeTarget returns the health URL probed for an instance.
func (s *Service) ProbeTarget(name string) (string, error) {
	s.mu.RLock()
	_, ok := s.loops[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, name)
	}
	return s.probeURL(), nil
}

func (s *Service) probeURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", s.cfg.BackendPort, s.cfg.ProbePath)
}

// tailLogs captures the last container output lines for failure diagnosis.
// Best effort: an empty string means the logs were not retrievable.
func (s *Service) tailLogs(ctx context.Context, containerID string) string {
	rc, err := s.runtime.GetContainerLogs(ctx, containerID, 20)
	if err != nil {
		return ""
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, 16<<10))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (s *Service) startLoop(ctx context.Context, inst *domain.Instance, machine *domain.Machine) *loop {
	l := newLoop(s, inst, machine)

	s.mu.Lock()
	s.loops[inst.Name] = l
	s.mu.Unlock()

	go l.run(context.WithoutCancel(ctx))
	return l
}

func (s *Service) takeLoop(name string) *loop {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.loops[name]
	delete(s.loops, name)
	return l
}

// dropLoop removes a loop that went terminal on its own.
func (s *Service) dropLoop(l *loop) {
	s.mu.Lock()
	if s.loops[l.name] == l {
		delete(s.loops, l.name)
	}
	s.mu.Unlock()
}

func (s *Service) persist(ctx context.Context, l *loop) {
	l.mu.Lock()
	rec := out.InstanceRecord{
		Name:         l.name,
		ImageRef:     l.imageRef,
		ContainerID:  l.containerID,
		State:        l.machine.State(),
		RestartCount: l.machine.RestartCount() + l.baseRestarts,
		LastCause:    l.lastCause(),
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	l.mu.Unlock()

	if err := s.store.SaveInstance(ctx, rec); err != nil {
		s.log.Error().Err(err).Str("instance", l.name).Msg("failed to persist instance state")
	}
}

func statusFromRecord(rec out.InstanceRecord) *domain.InstanceStatus {
	st := &domain.InstanceStatus{
		Name:         rec.Name,
		State:        rec.State,
		RestartCount: rec.RestartCount,
		LastHealth:   domain.HealthUnknown,
		LastCause:    rec.LastCause,
		ContainerID:  rec.ContainerID,
		ImageRef:     rec.ImageRef,
	}
	if t, err := time.Parse(time.RFC3339, rec.UpdatedAt); err == nil {
		st.StartedAt = t
	}
	return st
}
