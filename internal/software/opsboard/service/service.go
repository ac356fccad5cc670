// Package service aggregates live dispatch, tracking and registry state into
// the read models served by the operations dashboard.
package service

import (
	"ride-dispatch/internal/dispatch"
	"ride-dispatch/internal/ports"
	"ride-dispatch/internal/registry"
	"ride-dispatch/internal/tracking"
)

// opsService encapsulates the ops dashboard logic and dependencies.
type opsService struct {
	registry registry.Registry
	dispatch *dispatch.Service
	tracking *tracking.Manager
}

// NewOpsService creates a new instance of the OpsService with the provided dependencies.
func NewOpsService(reg registry.Registry, disp *dispatch.Service, tracker *tracking.Manager) ports.OpsService {
	return &opsService{
		registry: reg,
		dispatch: disp,
		tracking: tracker,
	}
}
