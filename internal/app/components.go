package app

import (
	"github.com/sentinelmarket/sentinel-sync/internal/registry"
	"github.com/sentinelmarket/sentinel-sync/internal/service"
	datasync "github.com/sentinelmarket/sentinel-sync/internal/sync"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Registry holds the configured views and their source descriptors
	Registry *registry.Registry

	// Aggregator runs refresh cycles for every mounted view
	Aggregator *datasync.Aggregator

	// Service owns mounted sessions and their polling
	Service service.DashboardService
}
