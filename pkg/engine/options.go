package engine

import (
	"fmt"
	"log/slog"

	"github.com/sandboxws/strata/pkg/checkpoint"
	"github.com/sandboxws/strata/pkg/xmlscan"
)

// DefaultCheckpointInterval is how many records pass between periodic
// checkpoint saves when none is configured.
const DefaultCheckpointInterval = 1000

// Options configures a scan engine. Zero values take documented defaults;
// Validate rejects combinations that cannot work.
type Options struct {
	// RecordName is the record element's local name, e.g. "Record".
	// Required.
	RecordName string

	// ChunkSize is the fixed read size in bytes. Default 256 KiB.
	ChunkSize int

	// GrowthLimit bounds the working buffer at this multiple of ChunkSize
	// outside degraded mode. Default 8.
	GrowthLimit int

	// HeadSize is how many leading bytes are inspected for namespace
	// detection. Default 8 KiB.
	HeadSize int

	// CheckpointInterval is the number of records between periodic
	// checkpoint saves. Default 1000. Zero keeps the default; periodic
	// saves only happen on runs that persist state.
	CheckpointInterval uint64

	// CheckpointPath overrides the default "<source>.checkpoint" location.
	CheckpointPath string

	// PositionCachePath overrides the default "<source>.position_cache"
	// location.
	PositionCachePath string

	// SampleStride is how often (in records) a position sample is taken.
	// Default 100.
	SampleStride uint64

	// Offset skips the first Offset records: they are counted but not
	// handed to the callback.
	Offset uint64

	// Limit stops emission after Limit records. Zero means unbounded.
	Limit uint64

	// ContinueOnError skips records whose callback fails instead of
	// aborting the run.
	ContinueOnError bool

	// AutoResume resumes from a valid checkpoint when one exists.
	AutoResume bool

	// Resume requires a valid checkpoint and fails when none is found.
	// Implies AutoResume.
	Resume bool

	// OnDegraded, when set, observes every transition into the
	// oversized-record buffer fallback.
	OnDegraded func(bufLen int)

	// Logger is the structured logger for engine operations. When nil,
	// slog.Default() is used.
	Logger *slog.Logger
}

// DefaultOptions returns options for the given record element name with
// all tunables at their defaults.
func DefaultOptions(recordName string) Options {
	return Options{
		RecordName:         recordName,
		ChunkSize:          xmlscan.DefaultChunkSize,
		GrowthLimit:        xmlscan.DefaultGrowthLimit,
		HeadSize:           xmlscan.DefaultHeadSize,
		CheckpointInterval: DefaultCheckpointInterval,
		SampleStride:       checkpoint.DefaultSampleStride,
	}
}

// Validate checks the options and fills in defaults for zero values.
func (o *Options) Validate() error {
	if o.RecordName == "" {
		return fmt.Errorf("options: record name is required")
	}
	if o.ChunkSize < 0 || o.GrowthLimit < 0 || o.HeadSize < 0 {
		return fmt.Errorf("options: sizes must be non-negative")
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = xmlscan.DefaultChunkSize
	}
	if o.GrowthLimit == 0 {
		o.GrowthLimit = xmlscan.DefaultGrowthLimit
	}
	if o.HeadSize == 0 {
		o.HeadSize = xmlscan.DefaultHeadSize
	}
	if o.CheckpointInterval == 0 {
		o.CheckpointInterval = DefaultCheckpointInterval
	}
	if o.SampleStride == 0 {
		o.SampleStride = checkpoint.DefaultSampleStride
	}
	if o.Resume {
		o.AutoResume = true
	}
	return nil
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
