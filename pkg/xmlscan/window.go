package xmlscan

import (
	"errors"
	"io"
	"log/slog"
)

// DefaultChunkSize is the read size used when none is configured.
const DefaultChunkSize = 256 * 1024

// DefaultGrowthLimit bounds the working buffer at this multiple of the
// chunk size before the window attempts a trim or enters degraded mode.
const DefaultGrowthLimit = 8

// ErrTruncatedRecord is returned by Next when the stream ends while a
// record is still open: an opening tag was seen but its matching close
// never arrived.
var ErrTruncatedRecord = errors.New("xmlscan: stream ended inside an open record")

// Window feeds a Session from a reader in fixed-size chunks and yields
// complete records one at a time. It owns the bounded-growth policy: the
// working buffer is trimmed at safe points so memory stays within
// chunkSize×growthLimit, except for the documented degraded mode where a
// single record is larger than the trim window and the buffer must grow to
// hold it whole.
type Window struct {
	r    io.Reader
	sess *Session

	chunkSize   int
	growthLimit int

	// onDegraded, when set, observes every transition into degraded mode
	// with the buffer length at that point.
	onDegraded func(bufLen int)

	logger *slog.Logger

	chunk     []byte
	bytesRead uint64
	eof       bool
	degraded  bool
	everDegr  bool
}

// WindowConfig configures a Window. Zero values take defaults.
type WindowConfig struct {
	ChunkSize   int
	GrowthLimit int
	OnDegraded  func(bufLen int)
	Logger      *slog.Logger
}

// NewWindow creates a chunked read window over r using the given session
// state. The reader must already be positioned at the session's base
// offset.
func NewWindow(r io.Reader, sess *Session, cfg WindowConfig) *Window {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.GrowthLimit <= 0 {
		cfg.GrowthLimit = DefaultGrowthLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Window{
		r:           r,
		sess:        sess,
		chunkSize:   cfg.ChunkSize,
		growthLimit: cfg.GrowthLimit,
		onDegraded:  cfg.OnDegraded,
		logger:      logger,
		chunk:       make([]byte, cfg.ChunkSize),
	}
}

// Next returns the next complete record. The raw slice aliases the working
// buffer and is valid only until the following Next call. At the end of the
// stream Next returns io.EOF, or ErrTruncatedRecord when the stream ends
// with a record still open.
func (w *Window) Next() (Boundary, []byte, error) {
	for {
		if b, raw, ok := w.sess.scan(); ok {
			if w.degraded {
				w.degraded = false
				w.logger.Info("oversized record completed, leaving degraded mode",
					"record", b.Number, "bytes", b.End-b.Start)
			}
			return b, raw, nil
		}

		if w.eof {
			if w.sess.hasOpenTag() {
				return Boundary{}, nil, ErrTruncatedRecord
			}
			return Boundary{}, nil, io.EOF
		}

		if err := w.fill(); err != nil {
			return Boundary{}, nil, err
		}
	}
}

// fill reads one chunk, appends it to the session buffer and applies the
// bounded-growth policy.
func (w *Window) fill() error {
	n, err := w.r.Read(w.chunk)
	if n > 0 {
		w.bytesRead += uint64(n)
		w.sess.append(w.chunk[:n])
	}
	switch {
	case err == io.EOF:
		w.eof = true
	case err != nil:
		return err
	}

	if w.sess.BufferedLen() > w.chunkSize*w.growthLimit {
		dropped := w.sess.trimGarbage()
		if w.sess.BufferedLen() > w.chunkSize*w.growthLimit && !w.degraded {
			// A single record larger than the trim window. Keep growing
			// rather than truncate data, and make the fallback observable.
			w.degraded = true
			w.everDegr = true
			w.logger.Warn("record exceeds buffer growth limit, entering degraded mode",
				"buffered", w.sess.BufferedLen(),
				"limit", w.chunkSize*w.growthLimit,
				"trimmed", dropped)
			if w.onDegraded != nil {
				w.onDegraded(w.sess.BufferedLen())
			}
		}
	}
	return nil
}

// BytesRead returns the total bytes pulled from the reader so far.
func (w *Window) BytesRead() uint64 { return w.bytesRead }

// Degraded reports whether this window ever entered degraded mode.
func (w *Window) Degraded() bool { return w.everDegr }
