package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	MachinesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ggnet_machines_total",
			Help: "Total number of machines by status",
		},
		[]string{"status"},
	)

	ImagesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ggnet_images_total",
			Help: "Total number of images by status",
		},
		[]string{"status"},
	)

	TargetsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ggnet_targets_total",
			Help: "Total number of iSCSI targets by status",
		},
		[]string{"status"},
	)

	SessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ggnet_sessions_total",
			Help: "Total number of sessions by status",
		},
		[]string{"status"},
	)

	ConvertJobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ggnet_convert_jobs_total",
			Help: "Total number of image conversion jobs by status",
		},
		[]string{"status"},
	)

	EventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ggnet_event_subscribers",
			Help: "Number of connected event stream subscribers",
		},
	)

	// Session lifecycle metrics
	SessionStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ggnet_session_start_duration_seconds",
			Help:    "Time from session request to ACTIVE in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	SessionStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ggnet_session_stop_duration_seconds",
			Help:    "Time to tear down a session in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	SessionCompensationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ggnet_session_compensations_total",
			Help: "Total number of session provisioning failures that were rolled back",
		},
	)

	// Image pipeline metrics
	UploadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ggnet_upload_bytes_total",
			Help: "Total image bytes received over the upload API",
		},
	)

	ConvertDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ggnet_convert_duration_seconds",
			Help:    "Image conversion duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
		},
	)

	// Infrastructure metrics
	DHCPReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ggnet_dhcp_reloads_total",
			Help: "Total number of dhcpd reloads by result",
		},
		[]string{"result"},
	)

	BootScriptFetchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ggnet_boot_script_fetches_total",
			Help: "Total number of boot script fetches over the API",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ggnet_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ggnet_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MachinesTotal)
	prometheus.MustRegister(ImagesTotal)
	prometheus.MustRegister(TargetsTotal)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(ConvertJobsTotal)
	prometheus.MustRegister(EventSubscribers)
	prometheus.MustRegister(SessionStartDuration)
	prometheus.MustRegister(SessionStopDuration)
	prometheus.MustRegister(SessionCompensationsTotal)
	prometheus.MustRegister(UploadBytesTotal)
	prometheus.MustRegister(ConvertDuration)
	prometheus.MustRegister(DHCPReloadsTotal)
	prometheus.MustRegister(BootScriptFetchesTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
