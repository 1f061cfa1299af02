package engine

import (
	"fmt"
	"io"
	"os"

	"github.com/sandboxws/strata/pkg/checkpoint"
	"github.com/sandboxws/strata/pkg/scanctx"
	"github.com/sandboxws/strata/pkg/xmlscan"
)

// StartPlan is the resume coordinator's decision for one run: where the
// stream should be positioned, how many records are already accounted for,
// and the tag pattern the scanner matches.
type StartPlan struct {
	// Resumed is true when the plan restores a prior run's checkpoint.
	Resumed bool

	// Checkpoint is the restored checkpoint, nil on a fresh start.
	Checkpoint *checkpoint.Checkpoint

	// StartOffset is the absolute byte position to seek the stream to.
	// It is always the byte immediately after a record's closing tag,
	// or zero.
	StartOffset uint64

	// StartRecord is how many records precede StartOffset; the first
	// record scanned will be StartRecord+1.
	StartRecord uint64

	// Pattern is the resolved record tag pattern for this session.
	Pattern xmlscan.TagPattern

	// BaseProcessed and BaseSkipped carry the cumulative counters from
	// the restored checkpoint, zero on a fresh start.
	BaseProcessed uint64
	BaseSkipped   uint64
}

// prepare decides between a fresh start and a resume, restores session
// state, and consults the position index to fast-skip large offsets. It
// never guesses: an explicit resume with no valid checkpoint fails, and a
// stale or corrupt checkpoint silently falls back to a fresh start (the
// store already warned).
func (e *Engine) prepare(sc *scanctx.Context, opts Options, persist bool) (StartPlan, error) {
	var plan StartPlan

	var cp *checkpoint.Checkpoint
	if persist && opts.AutoResume {
		loaded, err := e.store.Load()
		if err != nil {
			return plan, err
		}
		cp = loaded
	}
	if persist && opts.Resume && cp == nil {
		return plan, fmt.Errorf("%w: %s", ErrNoCheckpoint, e.source)
	}

	if cp != nil {
		plan.Resumed = true
		plan.Checkpoint = cp
		plan.StartOffset = cp.BytePosition
		plan.StartRecord = cp.RecordCount
		plan.BaseProcessed = cp.Session.ProcessedCount
		plan.BaseSkipped = cp.Session.SkippedCount
	}

	// Tag pattern: restored from the checkpointed session when the header
	// was already processed, otherwise derived once from the document head.
	if cp != nil && cp.Session.HeaderProcessed {
		plan.Pattern = xmlscan.NewTagPattern(opts.RecordName, cp.Session.NamespacePrefix)
	} else {
		head, err := e.readHead(opts.HeadSize)
		if err != nil {
			return plan, err
		}
		plan.Pattern = xmlscan.DetectPattern(head, opts.RecordName)
	}

	// For offsets far past the start position, seek near the target using
	// the sampled position index. Entries are advisory: only ones at or
	// below the requested offset and ahead of the current plan are used,
	// so a stale index can only make the scan start earlier, never skip
	// an unemitted record.
	if opts.Offset > plan.StartRecord {
		e.posIndex.Load()
		if rec, pos, ok := e.posIndex.NearestAtOrBelow(opts.Offset); ok && rec > plan.StartRecord {
			sc.Logger.Debug("seeking via position index",
				"target_record", opts.Offset, "index_record", rec, "byte_offset", pos)
			plan.StartOffset = pos
			plan.StartRecord = rec
		}
	}

	return plan, nil
}

// readHead returns the bounded leading slice of the source used for
// namespace detection.
func (e *Engine) readHead(headSize int) ([]byte, error) {
	f, err := os.Open(e.source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, e.source)
		}
		return nil, fmt.Errorf("engine: read head: %w", err)
	}
	defer f.Close()

	head := make([]byte, headSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("engine: read head: %w", err)
	}
	return head[:n], nil
}
