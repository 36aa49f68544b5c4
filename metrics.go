package shapesync

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	// MetricPoolEntries is the number of live connections.
	MetricPoolEntries             = []string{"shapesync", "pool", "entries"}
	MetricPoolRequestCount        = []string{"shapesync", "pool", "request", "count"}
	MetricPoolHitCount            = []string{"shapesync", "pool", "hit", "count"}
	MetricPoolStopCount           = []string{"shapesync", "pool", "stop", "count"}
	MetricPoolInboundCount        = []string{"shapesync", "pool", "inbound", "count"}
	MetricPoolDroppedCount        = []string{"shapesync", "pool", "dropped", "count"}
	MetricPoolFrontendUpdateCount = []string{"shapesync", "pool", "frontend", "update", "count"}
	MetricPoolPendingOverflow     = []string{"shapesync", "pool", "pending", "overflow", "count"}
	MetricPoolHydrationSeconds    = []string{"shapesync", "pool", "hydration", "seconds"}
)

type TelemetryLabel string

var (
	LabelError        TelemetryLabel = "error"
	LabelShape        TelemetryLabel = "shape"
	LabelKey          TelemetryLabel = "key"
	LabelConnectionID TelemetryLabel = "connection_id"
	LabelMessageType  TelemetryLabel = "message_type"
	LabelReason       TelemetryLabel = "reason"
	LabelDuration     TelemetryLabel = "duration"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
