package manager

import (
	"time"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/metrics"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// MetricsCollector publishes inventory gauges from the store. Every
// known status gets set each round, so a status draining to zero reads
// zero instead of its last value.
type MetricsCollector struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewMetricsCollector creates a collector over mgr's store.
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting every 15 seconds.
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectMachines()
	c.collectImages()
	c.collectTargets()
	c.collectSessions()
	c.collectConvertJobs()
}

func (c *MetricsCollector) collectMachines() {
	machines, err := c.manager.store.ListMachines()
	if err != nil {
		return
	}
	counts := map[types.MachineStatus]int{
		types.MachineStatusActive:      0,
		types.MachineStatusInactive:    0,
		types.MachineStatusMaintenance: 0,
	}
	for _, m := range machines {
		counts[m.Status]++
	}
	for status, count := range counts {
		metrics.MachinesTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *MetricsCollector) collectImages() {
	images, err := c.manager.store.ListImages()
	if err != nil {
		return
	}
	counts := map[types.ImageStatus]int{
		types.ImageStatusUploading:  0,
		types.ImageStatusProcessing: 0,
		types.ImageStatusReady:      0,
		types.ImageStatusError:      0,
		types.ImageStatusArchived:   0,
	}
	for _, img := range images {
		counts[img.Status]++
	}
	for status, count := range counts {
		metrics.ImagesTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *MetricsCollector) collectTargets() {
	targets, err := c.manager.store.ListTargets()
	if err != nil {
		return
	}
	counts := map[types.TargetStatus]int{
		types.TargetStatusCreating: 0,
		types.TargetStatusActive:   0,
		types.TargetStatusStopping: 0,
		types.TargetStatusStopped:  0,
		types.TargetStatusError:    0,
	}
	for _, t := range targets {
		counts[t.Status]++
	}
	for status, count := range counts {
		metrics.TargetsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *MetricsCollector) collectSessions() {
	sessions, err := c.manager.store.ListSessions()
	if err != nil {
		return
	}
	counts := map[types.SessionStatus]int{
		types.SessionStatusRequested:    0,
		types.SessionStatusProvisioning: 0,
		types.SessionStatusActive:       0,
		types.SessionStatusStopping:     0,
		types.SessionStatusStopped:      0,
		types.SessionStatusRejected:     0,
		types.SessionStatusFailed:       0,
	}
	for _, s := range sessions {
		counts[s.Status]++
	}
	for status, count := range counts {
		metrics.SessionsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *MetricsCollector) collectConvertJobs() {
	for _, status := range []types.ConvertJobStatus{
		types.ConvertJobPending,
		types.ConvertJobRunning,
		types.ConvertJobDone,
		types.ConvertJobFailed,
	} {
		jobs, err := c.manager.store.ListConvertJobsByStatus(status)
		if err != nil {
			return
		}
		metrics.ConvertJobsTotal.WithLabelValues(string(status)).Set(float64(len(jobs)))
	}
}
