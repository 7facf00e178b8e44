package app

import (
	"context"
	"fmt"
	"supravault/internal/shared/util"
	"time"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthService struct {
	app *App
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
	}

	if s.app == nil || s.app.assembler == nil {
		status.Status = "down"
		status.Components["pipeline"] = "missing"
		return status
	}
	status.Components["pipeline"] = "ok"

	switch {
	case s.app.store == nil && s.app.Config.DB.Enabled:
		status.Status = "degraded"
		status.Components["history"] = "missing but enabled in config"
	case s.app.store == nil:
		status.Components["history"] = "disabled"
	default:
		if p, ok := s.app.store.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				status.Status = "degraded"
				status.Components["history"] = "unreachable: " + err.Error()
				break
			}
		}
		status.Components["history"] = "ok"
	}

	status.Components["heap"] = fmt.Sprintf("%d MB", util.HeapAllocMB())
	return status
}
