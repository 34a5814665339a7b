package domain

// HealthPayload mirrors the service's /health response body. Extra keys
// (device, gpu_available, timestamps) are tolerated and ignored.
type HealthPayload struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// ClassifyHealth maps one probe response onto a readiness verdict. Port
// liveness is not enough: the service accepts connections while the model
// is still loading, so only the endpoint's self-reported state counts.
func ClassifyHealth(statusCode int, payload *HealthPayload) Readiness {
	if statusCode < 200 || statusCode >= 300 || payload == nil {
		return ReadinessBroken
	}

	switch payload.Status {
	case "ready", "healthy", "ok":
		if payload.ModelLoaded {
			return ReadinessReady
		}
		// Status claims ready but the model is not loaded yet; treat it as
		// warm-up, not as a failure.
		return ReadinessLoading
	case "loading", "not_ready", "starting":
		return ReadinessLoading
	default:
		return ReadinessBroken
	}
}
