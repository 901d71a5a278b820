package card

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auricle",
		Subsystem: "dma",
		Name:      "bytes_processed_total",
		Help:      "Bytes moved through the transfer engine per direction",
	}, []string{"direction"})

	metricCompletionIRQs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auricle",
		Subsystem: "dma",
		Name:      "completion_irqs_total",
		Help:      "Descriptor completion interrupts raised per direction",
	}, []string{"direction"})

	metricDMAErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auricle",
		Subsystem: "dma",
		Name:      "errors_total",
		Help:      "DMA errors latched by either engine",
	})

	metricUnderruns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auricle",
		Subsystem: "stream",
		Name:      "underruns_total",
		Help:      "Playback elastic buffer underruns",
	})

	metricOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auricle",
		Subsystem: "stream",
		Name:      "overruns_total",
		Help:      "Capture elastic buffer overruns",
	})

	metricClockUnlocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auricle",
		Subsystem: "clock",
		Name:      "unlocks_total",
		Help:      "Clock reconfigurations that dropped lock",
	})

	metricClockLocked = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "auricle",
		Subsystem: "clock",
		Name:      "locked",
		Help:      "1 while the audio clock is locked to the target rate",
	})

	metricBufferLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "auricle",
		Subsystem: "stream",
		Name:      "buffer_level_frames",
		Help:      "Elastic buffer occupancy in frames per direction",
	}, []string{"direction"})
)
