package domain

import "time"

// ContainerConfig is the runtime-agnostic launch description for one
// supervised instance.
type ContainerConfig struct {
	Name          string
	Image         string
	Env           []string
	Cmd           []string
	HostPort      int // host side of the published service port, 0 for none
	ContainerPort int
	User          string // uid:gid, empty runs the image default
	Labels        map[string]string
	Memory        int64 // bytes, 0 for unlimited
	NanoCPUs      int64
	AutoRestart   bool // engine relaunches after a host reboot, unless deliberately stopped
}

// Container is the runtime's view of a created or running container.
type Container struct {
	ID        string
	Name      string
	Image     string
	State     string
	ExitCode  int
	StartedAt time.Time
	Labels    map[string]string
}

// Running reports whether the runtime considers the container alive.
func (c *Container) Running() bool {
	return c.State == "running"
}
