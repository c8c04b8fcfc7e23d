/*
Package metrics provides Prometheus metrics collection and exposition for GGnet.

The metrics package defines and registers all GGnet metrics using the Prometheus
client library, providing observability into session provisioning, the image
pipeline, boot infrastructure actions, and API performance. Metrics are exposed
via HTTP endpoint for scraping by Prometheus servers.

# Architecture

GGnet's metrics system follows Prometheus conventions with instrumentation
across all components:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Inventory: Machines, images, targets       │          │
	│  │  Sessions: Start/stop latency, rollbacks    │          │
	│  │  Images: Upload bytes, convert duration     │          │
	│  │  Infrastructure: DHCP reloads, boot fetches │          │
	│  │  API: Request count, duration               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

# Metrics Catalog

Inventory Metrics:

ggnet_machines_total{status}:
  - Type: Gauge
  - Description: Machines by status (ACTIVE/INACTIVE/MAINTENANCE)
  - Example: ggnet_machines_total{status="ACTIVE"} 42

ggnet_images_total{status}:
  - Type: Gauge
  - Description: Images by status (UPLOADING/PROCESSING/READY/ERROR/ARCHIVED)

ggnet_targets_total{status}:
  - Type: Gauge
  - Description: iSCSI targets by status (CREATING/ACTIVE/STOPPING/STOPPED/ERROR)

ggnet_sessions_total{status}:
  - Type: Gauge
  - Description: Sessions by status across the full lifecycle

ggnet_convert_jobs_total{status}:
  - Type: Gauge
  - Description: Conversion queue depth by status (PENDING/RUNNING/DONE/FAILED)

ggnet_event_subscribers:
  - Type: Gauge
  - Description: Connected WebSocket event subscribers

Session Metrics:

ggnet_session_start_duration_seconds:
  - Type: Histogram
  - Description: Request-to-ACTIVE latency, buckets up to 120s
  - Use: Alert when boot provisioning approaches step timeouts

ggnet_session_stop_duration_seconds:
  - Type: Histogram
  - Description: Teardown latency, buckets up to 120s

ggnet_session_compensations_total:
  - Type: Counter
  - Description: Provisioning failures rolled back to FAILED
  - Use: Any increase means infrastructure steps are failing

Image Pipeline Metrics:

ggnet_upload_bytes_total:
  - Type: Counter
  - Description: Image bytes accepted by the chunked upload API

ggnet_convert_duration_seconds:
  - Type: Histogram
  - Description: qemu-img conversion duration, buckets up to 1800s

Infrastructure Metrics:

ggnet_dhcp_reloads_total{result}:
  - Type: Counter
  - Description: dhcpd reloads by result (ok/failed)

ggnet_boot_script_fetches_total:
  - Type: Counter
  - Description: Boot script fetches via the API (marks machine activity)

API Metrics:

ggnet_api_requests_total{method, status}:
  - Type: Counter
  - Description: API requests by method and HTTP status

ggnet_api_request_duration_seconds{method}:
  - Type: Histogram
  - Description: API request latency with default buckets

# Usage

Exposing Metrics:

	import "github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/metrics"

	mux.Handle("/metrics", metrics.Handler())

Updating Metrics:

	metrics.SessionsTotal.WithLabelValues("ACTIVE").Set(12)
	metrics.DHCPReloadsTotal.WithLabelValues("ok").Inc()
	metrics.UploadBytesTotal.Add(float64(len(chunk)))

Timing Operations:

	timer := metrics.NewTimer()
	// ... provision session ...
	timer.ObserveDuration(metrics.SessionStartDuration)

# Integration Points

This package integrates with:

  - pkg/manager: Gauge collection loop and lifecycle histograms
  - pkg/images: Upload and conversion instrumentation
  - pkg/dhcp: Reload result counting
  - pkg/api: Request instrumentation and the /metrics route

# Best Practices

Do:
  - Register new metrics in init() in this package
  - Use the Timer helper for histogram observations
  - Keep label cardinality low (statuses, not IDs)

Don't:
  - Put machine or session IDs in label values
  - Derive correctness from metrics; read the store

# See Also

  - pkg/manager for the collection loop
  - pkg/api for endpoint wiring
  - Prometheus naming: https://prometheus.io/docs/practices/naming/
*/
package metrics
