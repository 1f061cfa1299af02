// Package checkpoint persists byte-exact resume state for a scan over one
// source file: the checkpoint proper, the fingerprint that guards it
// against source mutation, and a sparse record→offset position index used
// to fast-seek large offsets.
package checkpoint

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
)

// headSize is how many leading bytes of the source participate in the
// fingerprint digest.
const headSize = 8 * 1024

// Phase is the lifecycle state of a scan run, embedded in a checkpoint so
// a resumed run knows how its predecessor ended.
type Phase string

const (
	PhaseInit        Phase = "init"
	PhaseScanning    Phase = "scanning"
	PhaseInterrupted Phase = "interrupted"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// Fingerprint identifies a source file's content cheaply: a digest of its
// first 8 KiB plus its total length. It is computed identically at save and
// validate time, so any in-place mutation or truncation of the source
// invalidates checkpoints taken before the change.
type Fingerprint struct {
	HeadDigest uint64 `json:"head_digest"`
	Size       uint64 `json:"size"`
}

// Matches reports whether two fingerprints agree.
func (f Fingerprint) Matches(other Fingerprint) bool {
	return f.HeadDigest == other.HeadDigest && f.Size == other.Size
}

// ComputeFingerprint digests the leading slice and length of the file at
// path.
func ComputeFingerprint(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}

	h := xxhash.New()
	if _, err := io.Copy(h, io.LimitReader(f, headSize)); err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}

	return Fingerprint{
		HeadDigest: h.Sum64(),
		Size:       uint64(info.Size()),
	}, nil
}

// SessionState is the parser-session snapshot embedded in a checkpoint so
// a resume does not re-derive per-session configuration like the detected
// namespace prefix.
type SessionState struct {
	NamespaceDetected bool   `json:"namespace_detected"`
	NamespacePrefix   string `json:"namespace_prefix,omitempty"`
	HeaderProcessed   bool   `json:"header_processed"`
	TotalRecordCount  uint64 `json:"total_record_count"`
	ProcessedCount    uint64 `json:"processed_count"`
	SkippedCount      uint64 `json:"skipped_count"`
	Phase             Phase  `json:"phase"`
}

// Checkpoint is the durable resume state for one source. BytePosition is
// always the offset of the byte immediately following a record's closing
// tag — never a mid-record offset — so a resumed scan starts exactly at
// the next record with no re-emission and no gap.
type Checkpoint struct {
	BytePosition uint64       `json:"byte_position"`
	RecordCount  uint64       `json:"record_count"`
	CreatedAt    time.Time    `json:"created_at"`
	SourceSize   uint64       `json:"source_size"`
	Fingerprint  Fingerprint  `json:"fingerprint"`
	ChunkSize    uint64       `json:"chunk_size"`
	Session      SessionState `json:"session"`
}
