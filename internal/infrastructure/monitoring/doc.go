/*
Package monitoring provides Prometheus metrics for the registry.

# Overview

Every collector is registered on a registry owned by the Metrics value
instead of the global default, so tests can build as many as they like.
All recording methods accept a nil receiver.

# Metrics

  - prison_http_requests_total, prison_http_request_duration_seconds
  - prison_inventory_loads_total{outcome}, prison_inventory_load_attempts_total{result}
  - prison_inventory_load_duration_seconds, prison_snapshot_apps{profile}
  - prison_icons_skipped_total
  - prison_lifecycle_operations_total{operation,status}, prison_profiles_pruned_total
  - prison_memory_usage_percent, prison_memory_collections_total
  - prison_ws_connections, prison_uptime_seconds

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
