package shapesync

import (
	"errors"
	"log/slog"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/shapesync/pkg/flow"
)

type config struct {
	logHandler   slog.Handler
	metricLabels []metrics.Label
	msink        metrics.MetricSink
	encoder      flow.Encoder
	decoder      flow.Decoder
	bufferSize   uint
	ensurePaths  bool
	pendingLimit int
	newConnID    func() string
}

// Option to pass to `New`
type Option func(*config) error

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the Pool.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted by
// your `Pool`.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithCodec sets how envelopes are written and read. The decoder MUST
// produce `protocol.Envelope` values. Defaults to JSON.
func WithCodec(enc flow.Encoder, dec flow.Decoder) Option {
	return func(c *config) error {
		if enc == nil || dec == nil {
			return errors.New("both an encoder and a decoder are required")
		}
		c.encoder = enc
		c.decoder = dec
		return nil
	}
}

// WithBufferSize controls how many envelopes can be queued in each
// direction before writers block.
func WithBufferSize(size uint) Option {
	return func(c *config) error {
		c.bufferSize = size
		return nil
	}
}

// WithEnsurePathExists makes remote diffs create the intermediate objects
// they miss instead of being skipped.
func WithEnsurePathExists(ensure bool) Option {
	return func(c *config) error {
		c.ensurePaths = ensure
		return nil
	}
}

// WithPendingLimit bounds how many BackendUpdates are held for a connection
// which is not hydrated yet. Updates above the limit are dropped.
func WithPendingLimit(limit int) Option {
	return func(c *config) error {
		if limit < 0 {
			return errors.New("pending limit must be positive")
		}
		c.pendingLimit = limit
		return nil
	}
}

// WithConnectionIDs replaces the generator of connection ids. Generated ids
// MUST never repeat for the lifetime of the remote store.
func WithConnectionIDs(gen func() string) Option {
	return func(c *config) error {
		if gen == nil {
			return errors.New("nil connection id generator")
		}
		c.newConnID = gen
		return nil
	}
}
