package checkpoint

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

// CacheSuffix names the position-cache file next to its source.
const CacheSuffix = ".position_cache"

// DefaultSampleStride is how often the engine samples a (record, offset)
// pair into the index.
const DefaultSampleStride = 100

// defaultMaxEntries caps the persisted index; beyond it the index is
// down-sampled to a coarser stride on save.
const defaultMaxEntries = 10_000

// positionCacheFile is the on-disk shape: the fingerprint guards the
// entries against source mutation, exactly as the checkpoint's does.
type positionCacheFile struct {
	Fingerprint Fingerprint       `json:"fingerprint"`
	Stride      uint64            `json:"stride"`
	Entries     map[uint64]uint64 `json:"entries"`
}

// PositionIndex is a sparse record-number → byte-offset map sampled during
// a scan and used later to seek near a large offset instead of scanning
// from byte zero. Every stored offset points at the byte immediately after
// that record's closing tag, so scanning resumed there yields record N+1.
//
// The index is purely advisory: a missing or stale index only means the
// scan starts further back; it is never trusted for record boundaries.
type PositionIndex struct {
	source string
	path   string
	logger *slog.Logger

	stride     uint64
	maxEntries int
	entries    map[uint64]uint64
	dirty      bool
	loaded     bool
}

// NewPositionIndex creates an index for source, stored at pathOverride or
// the default "<source>.position_cache".
func NewPositionIndex(source, pathOverride string, stride uint64, logger *slog.Logger) *PositionIndex {
	path := pathOverride
	if path == "" {
		path = source + CacheSuffix
	}
	if stride == 0 {
		stride = DefaultSampleStride
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PositionIndex{
		source:     source,
		path:       path,
		logger:     logger,
		stride:     stride,
		maxEntries: defaultMaxEntries,
		entries:    make(map[uint64]uint64),
	}
}

// Sample records the byte offset following record recordNumber's closing
// tag. Calls are cheap; only multiples of the stride are kept.
func (p *PositionIndex) Sample(recordNumber, byteOffset uint64) {
	if recordNumber == 0 || recordNumber%p.stride != 0 {
		return
	}
	if _, seen := p.entries[recordNumber]; seen {
		return
	}
	p.entries[recordNumber] = byteOffset
	p.dirty = true
}

// NearestAtOrBelow returns the sampled entry closest to target without
// exceeding it. ok is false when no entry qualifies, in which case the
// caller scans from byte zero.
func (p *PositionIndex) NearestAtOrBelow(target uint64) (recordNumber, byteOffset uint64, ok bool) {
	var best uint64
	for rec, off := range p.entries {
		if rec <= target && rec > best {
			best = rec
			byteOffset = off
		}
	}
	if best == 0 {
		return 0, 0, false
	}
	return best, byteOffset, true
}

// Len returns the number of in-memory entries.
func (p *PositionIndex) Len() int { return len(p.entries) }

// Load reads the persisted index if present. A missing, malformed or
// stale-fingerprint file leaves the index empty, never an error: the
// cache is an optimization only. Sampled entries already in memory are
// kept; the persisted ones merge alongside them.
func (p *PositionIndex) Load() {
	p.loaded = true

	f, err := os.Open(p.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		p.logger.Warn("position cache unreadable, ignoring", "path", p.path, "error", err)
		return
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		p.logger.Warn("position cache corrupt, ignoring", "path", p.path, "error", err)
		return
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		p.logger.Warn("position cache corrupt, ignoring", "path", p.path, "error", err)
		return
	}

	var file positionCacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		p.logger.Warn("position cache corrupt, ignoring", "path", p.path, "error", err)
		return
	}

	live, err := ComputeFingerprint(p.source)
	if err != nil || !file.Fingerprint.Matches(live) {
		p.logger.Warn("position cache stale, ignoring", "path", p.path)
		return
	}

	if file.Stride > p.stride {
		p.stride = file.Stride
	}
	for rec, off := range file.Entries {
		if _, seen := p.entries[rec]; !seen {
			p.entries[rec] = off
		}
	}
}

// Save persists the index atomically, down-sampling first when it has
// outgrown the entry cap. An existing on-disk index is merged in first so
// runs that never consulted the cache do not clobber earlier runs'
// samples. Saving an unchanged index is a no-op.
func (p *PositionIndex) Save() error {
	if !p.dirty {
		return nil
	}
	if !p.loaded {
		p.Load()
	}
	p.downsample()

	fp, err := ComputeFingerprint(p.source)
	if err != nil {
		return fmt.Errorf("position cache save: %w", err)
	}

	data, err := json.Marshal(positionCacheFile{
		Fingerprint: fp,
		Stride:      p.stride,
		Entries:     p.entries,
	})
	if err != nil {
		return fmt.Errorf("position cache save: encode: %w", err)
	}

	tmp := p.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("position cache save: %w", err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("position cache save: %w", err)
	}
	_, werr := zw.Write(data)
	if cerr := zw.Close(); werr == nil {
		werr = cerr
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(tmp)
		return fmt.Errorf("position cache save: %w", werr)
	}

	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("position cache save: %w", err)
	}
	p.dirty = false
	return nil
}

// Clear deletes the persisted index and drops in-memory entries.
func (p *PositionIndex) Clear() error {
	p.entries = make(map[uint64]uint64)
	p.dirty = false
	err := os.Remove(p.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("position cache clear: %w", err)
	}
	return nil
}

// downsample doubles the stride until the index fits the entry cap,
// keeping only records on the coarser stride.
func (p *PositionIndex) downsample() {
	for len(p.entries) > p.maxEntries {
		p.stride *= 2
		keys := make([]uint64, 0, len(p.entries))
		for rec := range p.entries {
			keys = append(keys, rec)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, rec := range keys {
			if rec%p.stride != 0 {
				delete(p.entries, rec)
			}
		}
	}
}
