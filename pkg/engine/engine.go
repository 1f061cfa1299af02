// Package engine drives the read/scan/emit loop over one source file:
// it owns the scan session and checkpoint lifecycle, applies offset/limit
// windows, invokes the caller's per-record callback, and decides when to
// checkpoint and how to terminate. One engine run processes one source on
// a single goroutine; the callback is the backpressure mechanism and, with
// context cancellation, the only way to stop a run early.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sandboxws/strata/pkg/checkpoint"
	"github.com/sandboxws/strata/pkg/metrics"
	"github.com/sandboxws/strata/pkg/scanctx"
	"github.com/sandboxws/strata/pkg/xmlscan"
)

// Action tells the engine how to proceed after a callback.
type Action int

const (
	// Continue proceeds to the next record.
	Continue Action = iota

	// Stop ends the run after this record. The engine checkpoints the
	// position immediately after the record's closing tag so a later run
	// resumes with the next record. Stopping is cooperative and is not
	// an error.
	Stop
)

// Record is one emitted record: its ordinal, absolute byte range and raw
// bytes. Raw aliases the engine's working buffer and is valid only for the
// duration of the callback; callers keeping it must copy.
type Record struct {
	Number uint64
	Start  uint64
	End    uint64
	Raw    []byte
}

// Callback receives each emitted record in order. Returning Stop ends the
// run cooperatively. A non-nil error marks the record as failed: under
// ContinueOnError it is counted as skipped and the scan moves on, otherwise
// the run aborts with a RecordError wrapping it.
type Callback func(rec Record) (Action, error)

// Summary reports how a run ended.
type Summary struct {
	RunID          string
	Phase          checkpoint.Phase
	RecordsScanned uint64 // boundaries found during this run
	RecordsEmitted uint64 // records handed to the callback this run
	RecordsSkipped uint64 // callback failures skipped this run
	RecordCount    uint64 // absolute count, including resumed-over records
	BytePosition   uint64 // position after the last scanned record
	BytesRead      uint64
	SourceSize     uint64
	Resumed        bool
	Degraded       bool
	Duration       time.Duration
}

// Engine scans one source file for record boundaries.
type Engine struct {
	source   string
	opts     Options
	store    *checkpoint.Store
	posIndex *checkpoint.PositionIndex
}

// New creates an engine for the source file with the given options.
func New(source string, opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(source); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, source)
		}
		return nil, fmt.Errorf("engine: stat source: %w", err)
	}
	logger := opts.logger().With("source", source)
	return &Engine{
		source:   source,
		opts:     opts,
		store:    checkpoint.NewStore(source, opts.CheckpointPath, logger),
		posIndex: checkpoint.NewPositionIndex(source, opts.PositionCachePath, opts.SampleStride, logger),
	}, nil
}

// Scan runs the full read/scan/emit loop with the configured offset, limit
// and checkpointing behavior.
func (e *Engine) Scan(ctx context.Context, cb Callback) (*Summary, error) {
	return e.run(ctx, cb, e.opts, true)
}

// ScanWithCheckpoints scans with periodic checkpointing every interval
// records, resuming from an existing checkpoint when one is valid. The
// engine's own options are untouched; the overrides apply to this run only.
func (e *Engine) ScanWithCheckpoints(ctx context.Context, cb Callback, interval uint64) (*Summary, error) {
	opts := e.opts
	if interval > 0 {
		opts.CheckpointInterval = interval
	}
	opts.AutoResume = true
	return e.run(ctx, cb, opts, true)
}

// ScanWithLimits scans an offset/limit window of the record sequence.
// Records numbered at or below offset are counted but not emitted; emission
// stops after limit records (limit zero means unbounded).
func (e *Engine) ScanWithLimits(ctx context.Context, cb Callback, offset, limit uint64) (*Summary, error) {
	opts := e.opts
	opts.Offset = offset
	opts.Limit = limit
	return e.run(ctx, cb, opts, true)
}

// CountRecords scans the whole source counting boundaries without invoking
// any callback and without touching checkpoint or position-cache files.
func (e *Engine) CountRecords(ctx context.Context) (uint64, error) {
	opts := e.opts
	opts.Offset = 0
	opts.Limit = 0
	sum, err := e.run(ctx, nil, opts, false)
	if err != nil {
		return 0, err
	}
	return sum.RecordCount, nil
}

// CheckpointInfo returns the stored checkpoint for the source, or nil when
// none is present or it no longer matches the source.
func (e *Engine) CheckpointInfo() (*checkpoint.Checkpoint, error) {
	return e.store.Load()
}

// ClearCheckpoint deletes the source's checkpoint and position cache.
func (e *Engine) ClearCheckpoint() error {
	if err := e.store.Clear(); err != nil {
		return err
	}
	return e.posIndex.Clear()
}

// SetChunkSize adjusts the read size for subsequent runs.
func (e *Engine) SetChunkSize(bytes int) {
	if bytes > 0 {
		e.opts.ChunkSize = bytes
	}
}

// run is the batch engine state machine: Init (prepare/seek), Scanning
// (the pull loop), then one of Interrupted, Completed or Failed. opts is a
// per-run snapshot so method-level overrides never leak between runs;
// persist controls whether checkpoints and position samples are written.
func (e *Engine) run(ctx context.Context, cb Callback, opts Options, persist bool) (*Summary, error) {
	start := time.Now()
	sc := scanctx.NewContext(ctx, e.source)
	if opts.Logger != nil {
		sc.Logger = opts.Logger.With("run", sc.RunID, "source", e.source)
	}

	info, err := os.Stat(e.source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, e.source)
		}
		return nil, fmt.Errorf("engine: stat source: %w", err)
	}
	sourceSize := uint64(info.Size())

	plan, err := e.prepare(sc, opts, persist)
	if err != nil {
		return nil, err
	}
	if plan.Resumed {
		sc.Logger.Info("resuming from checkpoint",
			"byte_position", plan.StartOffset, "record_count", plan.StartRecord)
	}

	f, err := os.Open(e.source)
	if err != nil {
		return nil, fmt.Errorf("engine: open source: %w", err)
	}
	defer f.Close()
	if plan.StartOffset > 0 {
		if _, err := f.Seek(int64(plan.StartOffset), io.SeekStart); err != nil {
			return nil, fmt.Errorf("engine: seek to %d: %w", plan.StartOffset, err)
		}
	}

	sess := xmlscan.NewSession(plan.Pattern, plan.StartOffset, plan.StartRecord)
	window := xmlscan.NewWindow(f, sess, xmlscan.WindowConfig{
		ChunkSize:   opts.ChunkSize,
		GrowthLimit: opts.GrowthLimit,
		Logger:      sc.Logger,
		OnDegraded: func(bufLen int) {
			sc.Progress.DegradedEvents.Add(1)
			metrics.DegradedEvents.WithLabelValues(e.source).Inc()
			if opts.OnDegraded != nil {
				opts.OnDegraded(bufLen)
			}
		},
	})

	sum := &Summary{
		RunID:        sc.RunID,
		Phase:        checkpoint.PhaseScanning,
		RecordCount:  plan.StartRecord,
		BytePosition: plan.StartOffset,
		SourceSize:   sourceSize,
		Resumed:      plan.Resumed,
	}

	lastPos := plan.StartOffset
	lastCount := plan.StartRecord

	finish := func(phase checkpoint.Phase, scanErr error) (*Summary, error) {
		sum.Phase = phase
		sum.RecordCount = lastCount
		sum.BytePosition = lastPos
		sum.BytesRead = window.BytesRead()
		sum.Degraded = window.Degraded()
		sum.Duration = time.Since(start)
		sc.Progress.BytesRead.Store(int64(sum.BytesRead))
		metrics.BytesRead.WithLabelValues(e.source).Add(float64(sum.BytesRead))
		metrics.ScanDuration.WithLabelValues(e.source).Observe(sum.Duration.Seconds())

		if persist {
			if phase == checkpoint.PhaseCompleted {
				if err := e.store.Clear(); err != nil {
					sc.Logger.Warn("failed to clear checkpoint", "error", err)
				}
			} else {
				e.saveCheckpoint(sc, opts, plan, lastPos, lastCount, sum, phase)
			}
			if err := e.posIndex.Save(); err != nil {
				sc.Logger.Warn("failed to save position cache", "error", err)
			}
		}

		sc.Logger.Info("scan finished",
			"phase", phase,
			"scanned", sum.RecordsScanned,
			"emitted", sum.RecordsEmitted,
			"skipped", sum.RecordsSkipped,
			"byte_position", sum.BytePosition,
			"duration", sum.Duration)
		return sum, scanErr
	}

	for {
		if sc.Cancelled() {
			return finish(checkpoint.PhaseInterrupted, nil)
		}

		b, raw, err := window.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				endPos := plan.StartOffset + window.BytesRead()
				if endPos != sourceSize {
					sc.Logger.Warn("stream ended short of declared length",
						"consumed", endPos, "declared", sourceSize)
					return finish(checkpoint.PhaseInterrupted,
						fmt.Errorf("%w: consumed %d of %d bytes", ErrIncompleteStream, endPos, sourceSize))
				}
				lastPos = sourceSize // trailing container markup is consumed
				return finish(checkpoint.PhaseCompleted, nil)

			case errors.Is(err, xmlscan.ErrTruncatedRecord):
				sc.Logger.Warn("stream ended inside an open record",
					"after_record", lastCount, "byte_position", lastPos)
				return finish(checkpoint.PhaseInterrupted,
					fmt.Errorf("%w: record %d never closed", ErrIncompleteStream, lastCount+1))

			default:
				return finish(checkpoint.PhaseFailed, fmt.Errorf("engine: read: %w", err))
			}
		}

		sum.RecordsScanned++
		sc.Progress.RecordsScanned.Add(1)
		metrics.RecordsScanned.WithLabelValues(e.source).Inc()

		stop := false
		if cb != nil && b.Number > opts.Offset && (opts.Limit == 0 || sum.RecordsEmitted < opts.Limit) {
			action, cerr := cb(Record{Number: b.Number, Start: b.Start, End: b.End, Raw: raw})
			if cerr != nil {
				if !opts.ContinueOnError {
					recErr := &RecordError{Number: b.Number, Start: b.Start, End: b.End, Err: cerr}
					return finish(checkpoint.PhaseFailed, recErr)
				}
				sum.RecordsSkipped++
				sc.Progress.RecordsSkipped.Add(1)
				metrics.RecordsSkipped.WithLabelValues(e.source).Inc()
				sc.Logger.Error("record skipped",
					"record", b.Number, "start", b.Start, "end", b.End, "error", cerr)
			} else {
				sum.RecordsEmitted++
				sc.Progress.RecordsEmitted.Add(1)
				metrics.RecordsEmitted.WithLabelValues(e.source).Inc()
				stop = action == Stop
			}
		}

		// The record is fully behind us: its end is now the exact resume
		// position, one byte past the closing tag's final character.
		lastPos = b.End
		lastCount = b.Number

		if persist {
			e.posIndex.Sample(b.Number, b.End)
			if b.Number%opts.CheckpointInterval == 0 {
				e.saveCheckpoint(sc, opts, plan, lastPos, lastCount, sum, checkpoint.PhaseScanning)
			}
		}

		if stop {
			return finish(checkpoint.PhaseInterrupted, nil)
		}
		if opts.Limit > 0 && sum.RecordsEmitted >= opts.Limit {
			return finish(checkpoint.PhaseInterrupted, nil)
		}
	}
}

// saveCheckpoint persists resume state at the given position. Failures are
// logged, never fatal: the scan itself is unaffected and an older
// checkpoint simply remains in place.
func (e *Engine) saveCheckpoint(sc *scanctx.Context, opts Options, plan StartPlan, pos, count uint64, sum *Summary, phase checkpoint.Phase) {
	cp := checkpoint.Checkpoint{
		BytePosition: pos,
		RecordCount:  count,
		ChunkSize:    uint64(opts.ChunkSize),
		Session: checkpoint.SessionState{
			NamespaceDetected: plan.Pattern.Prefix != "",
			NamespacePrefix:   plan.Pattern.Prefix,
			HeaderProcessed:   true,
			TotalRecordCount:  count,
			ProcessedCount:    plan.BaseProcessed + sum.RecordsEmitted,
			SkippedCount:      plan.BaseSkipped + sum.RecordsSkipped,
			Phase:             phase,
		},
	}
	if _, err := e.store.Save(cp); err != nil {
		sc.Logger.Warn("checkpoint save failed", "byte_position", pos, "error", err)
		return
	}
	sc.Progress.CheckpointSaves.Add(1)
	metrics.CheckpointSaves.WithLabelValues(e.source).Inc()
	sc.Logger.Debug("checkpoint saved", "byte_position", pos, "record_count", count)
}
