package app

import (
	"github.com/bnema/zerowrap"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// logHandler mirrors every bus event into the structured log so operators
// get one timeline of builds, restarts and certificate activity.
type logHandler struct {
	log zerowrap.Logger
}

func newLogHandler(log zerowrap.Logger) *logHandler {
	return &logHandler{log: log}
}

func (h *logHandler) CanHandle(domain.EventType) bool { return true }

func (h *logHandler) Handle(event domain.Event) error {
	ev := h.log.Info().
		Str(zerowrap.FieldEvent, string(event.Type)).
		Time("at", event.Timestamp)
	if event.Instance != "" {
		ev = ev.Str(zerowrap.FieldEntityID, event.Instance)
	}
	if event.ImageRef != "" {
		ev = ev.Str("image", event.ImageRef)
	}
	ev.Msg("event")
	return nil
}
