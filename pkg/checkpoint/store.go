package checkpoint

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-json"
)

// Suffix is appended to the source path to name its checkpoint file when
// no explicit path is configured.
const Suffix = ".checkpoint"

// Store reads and writes the checkpoint file for one source. Writes are
// atomic (write to a temp file, then rename) so a crash mid-save never
// leaves a corrupt checkpoint behind. A Store is owned by a single active
// run; concurrent writers against the same source are not supported.
type Store struct {
	source string
	path   string
	logger *slog.Logger
}

// NewStore creates a store for the given source file. pathOverride, when
// non-empty, replaces the default "<source>.checkpoint" location.
func NewStore(source, pathOverride string, logger *slog.Logger) *Store {
	path := pathOverride
	if path == "" {
		path = source + Suffix
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{source: source, path: path, logger: logger}
}

// Path returns the checkpoint file location.
func (s *Store) Path() string { return s.path }

// Save computes a fresh fingerprint of the source and durably writes the
// checkpoint. The caller supplies position, counts and session state; the
// fingerprint, timestamp and source size are filled in here so they always
// reflect the source as it is at save time.
func (s *Store) Save(cp Checkpoint) (Checkpoint, error) {
	fp, err := ComputeFingerprint(s.source)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint save: %w", err)
	}
	cp.Fingerprint = fp
	cp.SourceSize = fp.Size
	cp.CreatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint save: encode: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint save: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return Checkpoint{}, fmt.Errorf("checkpoint save: %w", err)
	}
	return cp, nil
}

// Load returns the stored checkpoint, or nil when none is usable. A
// missing file, a malformed file, or a fingerprint that no longer matches
// the live source all yield (nil, nil): the caller starts fresh from byte
// zero. Only source I/O failures surface as errors.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint load: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("discarding corrupt checkpoint", "path", s.path, "error", err)
		return nil, nil
	}

	live, err := ComputeFingerprint(s.source)
	if err != nil {
		return nil, fmt.Errorf("checkpoint load: %w", err)
	}
	if !cp.Fingerprint.Matches(live) {
		s.logger.Warn("source changed since checkpoint, starting fresh",
			"path", s.path,
			"checkpoint_size", cp.Fingerprint.Size,
			"live_size", live.Size)
		return nil, nil
	}
	if cp.BytePosition > live.Size {
		s.logger.Warn("checkpoint position beyond source, starting fresh",
			"path", s.path, "position", cp.BytePosition, "size", live.Size)
		return nil, nil
	}

	return &cp, nil
}

// Clear deletes the checkpoint file. Clearing an absent checkpoint is not
// an error.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint clear: %w", err)
	}
	return nil
}
