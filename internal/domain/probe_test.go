package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHealth(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		payload *HealthPayload
		want    Readiness
	}{
		{
			name:    "ready with model loaded",
			code:    200,
			payload: &HealthPayload{Status: "healthy", ModelLoaded: true},
			want:    ReadinessReady,
		},
		{
			name:    "loading",
			code:    200,
			payload: &HealthPayload{Status: "loading"},
			want:    ReadinessLoading,
		},
		{
			name:    "not ready",
			code:    200,
			payload: &HealthPayload{Status: "not_ready"},
			want:    ReadinessLoading,
		},
		{
			name:    "claims healthy but model not loaded",
			code:    200,
			payload: &HealthPayload{Status: "healthy", ModelLoaded: false},
			want:    ReadinessLoading,
		},
		{
			name:    "server error",
			code:    500,
			payload: &HealthPayload{Status: "healthy", ModelLoaded: true},
			want:    ReadinessBroken,
		},
		{
			name:    "unparseable body",
			code:    200,
			payload: nil,
			want:    ReadinessBroken,
		},
		{
			name:    "unknown status string",
			code:    200,
			payload: &HealthPayload{Status: "exploded"},
			want:    ReadinessBroken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyHealth(tt.code, tt.payload))
		})
	}
}
