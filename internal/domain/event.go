package domain

import "time"

// EventType defines the type of event that occurred.
type EventType string

const (
	EventBuildStarted       EventType = "build.started"
	EventBuildCompleted     EventType = "build.completed"
	EventBuildFailed        EventType = "build.failed"
	EventInstanceStarted    EventType = "instance.started"
	EventInstanceHealthy    EventType = "instance.healthy"
	EventInstanceUnhealthy  EventType = "instance.unhealthy"
	EventInstanceRestarted  EventType = "instance.restarted"
	EventInstanceFailed     EventType = "instance.failed"
	EventInstanceStopped    EventType = "instance.stopped"
	EventCertObtained       EventType = "cert.obtained"
	EventCertRenewed        EventType = "cert.renewed"
	EventCertRenewalFailed  EventType = "cert.renewal_failed"
)

// Event represents a domain event that occurred in the system.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Instance  string
	ImageRef  string
	Data      any
}

// BuildPayload carries data for build.* events.
type BuildPayload struct {
	Version  string
	ImageRef string
	Stage    int
	Error    string
}

// InstancePayload carries data for instance.* events.
type InstancePayload struct {
	Name        string
	ContainerID string
	State       InstanceState
	Cause       RestartCause
	Restarts    int
}

// CertPayload carries data for cert.* events.
type CertPayload struct {
	Domain   string
	NotAfter time.Time
	Error    string
}
