package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cutout_jobs_total",
		Help: "Total number of jobs finished, by kind and status",
	}, []string{"kind", "status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cutout_stage_duration_seconds",
		Help:    "Duration of each pipeline stage",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	FramesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cutout_frames_processed_total",
		Help: "Total number of frames sent through background removal, by result",
	}, []string{"result"})

	FrameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cutout_frame_duration_seconds",
		Help:    "Time to remove the background of a single frame",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cutout_active_jobs",
		Help: "Number of jobs running or waiting for a slot",
	})

	SweptEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cutout_swept_entries_total",
		Help: "Total number of stale files and workspaces removed by the sweeper",
	})
)
