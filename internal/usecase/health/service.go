// Package health exposes probe results for status surfaces: the CLI status
// command and the daemon's own health endpoint.
package health

import (
	"context"

	"github.com/bnema/zerowrap"

	"github.com/appayureze-cloud/aiastra/internal/boundaries/in"
	"github.com/appayureze-cloud/aiastra/internal/boundaries/out"
	"github.com/appayureze-cloud/aiastra/internal/domain"
	"github.com/appayureze-cloud/aiastra/internal/usecase/supervise"
)

var _ in.HealthService = (*Service)(nil)

// Service implements the HealthService interface.
type Service struct {
	supervisor *supervise.Service
	prober     out.Prober
	log        zerowrap.Logger
}

// NewService creates the health service.
func NewService(supervisor *supervise.Service, prober out.Prober, log zerowrap.Logger) *Service {
	return &Service{
		supervisor: supervisor,
		prober:     prober,
		log:        log,
	}
}

// Check probes one instance immediately, outside its supervision schedule.
// On-demand results never feed the supervisor's failure threshold.
func (s *Service) Check(ctx context.Context, name string) (domain.HealthRecord, error) {
	target, err := s.supervisor.ProbeTarget(name)
	if err != nil {
		return domain.HealthRecord{}, err
	}

	rec, err := s.prober.Probe(ctx, target)
	if err != nil {
		s.log.Debug().
			Str(zerowrap.FieldUseCase, "health").
			Str("instance", name).
			Err(err).
			Msg("on-demand probe failed")
	}
	return rec, nil
}

// LastKnown returns the supervised rolling probe window, newest last.
func (s *Service) LastKnown(_ context.Context, name string) ([]domain.HealthRecord, error) {
	return s.supervisor.Window(name)
}
