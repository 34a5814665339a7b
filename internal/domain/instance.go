package domain

import "time"

// InstanceState is the supervisor-visible state of a service instance.
type InstanceState string

const (
	StateStarting   InstanceState = "starting"
	StateHealthy    InstanceState = "healthy"
	StateUnhealthy  InstanceState = "unhealthy"
	StateRestarting InstanceState = "restarting"
	StateFailed     InstanceState = "failed"
	StateStopped    InstanceState = "stopped"
)

// Terminal reports whether no further transitions are possible without
// operator intervention.
func (s InstanceState) Terminal() bool {
	return s == StateFailed || s == StateStopped
}

// RestartCause records why an instance was (or is about to be) restarted.
type RestartCause string

const (
	CauseCrash        RestartCause = "crash"
	CauseProbeFailure RestartCause = "probe-failure"
	CauseHostReboot   RestartCause = "host-reboot"
	CauseManual       RestartCause = "manual"
)

// HealthState is the last-known probe verdict for an instance.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// Readiness classifies one probe response. Loading is "not yet healthy",
// not "broken": the service accepts connections before its model is loaded.
type Readiness string

const (
	ReadinessReady   Readiness = "ready"
	ReadinessLoading Readiness = "loading"
	ReadinessBroken  Readiness = "broken"
)

// HealthRecord is the result of one probe execution. Records are retained
// only as a rolling window sized by the consecutive-failure threshold.
type HealthRecord struct {
	Timestamp time.Time
	Success   bool // transport round-trip completed and the body parsed
	Readiness Readiness
	Detail    string
}

// Instance describes one running process derived from a RuntimeImage.
type Instance struct {
	Name         string
	ContainerID  string
	ImageRef     string
	StartedAt    time.Time
	RestartCount int
	State        InstanceState
	LastHealth   HealthState
}

// InstanceStatus is the status() contract of the supervisor.
type InstanceStatus struct {
	Name         string        `json:"name"`
	State        InstanceState `json:"state"`
	RestartCount int           `json:"restart_count"`
	LastHealth   HealthState   `json:"last_health"`
	LastCause    RestartCause  `json:"last_cause,omitempty"`
	ContainerID  string        `json:"container_id,omitempty"`
	ImageRef     string        `json:"image_ref,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
}
