// Package spanlog implements the durable span log as a newline-delimited
// JSON file.
//
// Every record is one span JSON object followed by "\n", written with a single
// write call and flushed with fsync before Append returns. The file is the
// only durable state of the runtime; everything else is derived by replaying
// it with Scan.
//
// # Torn and corrupt records
//
// A crash mid-append can leave an unterminated last line. Scan treats such a
// tail as "not yet a record" and does not yield it. The next Append on a
// writable log first terminates the torn line, after which it reads back as a
// corrupt record. Corrupt records (lines that do not decode to a valid span)
// are skipped, logged and reported to the SkipHook. Neither case is fatal.
//
// An Append whose write succeeds but whose fsync fails returns an error
// wrapping ErrNotSynced. The record may or may not survive a crash, but it is
// in the file and readers see it.
//
// # Single writer
//
// One process owns a log for writing. Open takes an exclusive advisory lock
// and fails with ErrLocked if another process holds it. OpenReadOnly takes no
// lock and can read a log that another process is appending to.
package spanlog

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/logline/internal/span"
)

var (
	// ErrLocked is returned by Open when another process owns the log.
	ErrLocked = errors.New("span log is locked by another process")

	// ErrReadOnly is returned by Append on a log opened with OpenReadOnly.
	ErrReadOnly = errors.New("span log is read-only")

	// ErrClosed is returned by Append after Close.
	ErrClosed = errors.New("span log is closed")

	// ErrNotSynced is wrapped by Append when the record was written but the
	// fsync failed. The record is in the file and Scan returns it.
	ErrNotSynced = errors.New("record written but not synced")
)

// Skipped describes a record that Scan did not yield.
type Skipped struct {
	// Position is the 1-based line number (file) or row sequence (SQLite).
	Position int64

	// Torn is true for an unterminated final line.
	Torn bool

	// Err is the decode error for corrupt records; nil when Torn.
	Err error
}

// Reason returns "torn" or "corrupt".
func (s Skipped) Reason() string {
	if s.Torn {
		return "torn"
	}
	return "corrupt"
}

// SkipHook observes skipped records. It is called synchronously from Scan.
type SkipHook func(Skipped)

// Options holds settings shared by log backends.
type Options struct {
	Logger *slog.Logger
	OnSkip SkipHook
}

// Option configures a log backend.
type Option func(*Options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithSkipHook registers a hook for skipped records.
func WithSkipHook(h SkipHook) Option {
	return func(o *Options) {
		o.OnSkip = h
	}
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{Logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Report logs s and forwards it to the hook.
func (o Options) Report(s Skipped) {
	if s.Torn {
		o.Logger.Debug("span log: skipping unterminated record", "position", s.Position)
	} else {
		o.Logger.Warn("span log: skipping corrupt record", "position", s.Position, "error", s.Err)
	}
	if o.OnSkip != nil {
		o.OnSkip(s)
	}
}

// File is an append-only NDJSON span log.
type File struct {
	path     string
	opts     Options
	readOnly bool

	mu   sync.Mutex
	f    *os.File
	torn bool // the file may end in an unterminated line
}

// Open opens or creates the log at path for appending, creating parent
// directories as needed.
func Open(path string, opts ...Option) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create span log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open span log: %w", err)
	}

	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}

	torn, err := endsTorn(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("inspect span log tail: %w", err)
	}

	l := &File{path: path, opts: NewOptions(opts...), f: f, torn: torn}
	if torn {
		l.opts.Logger.Warn("span log ends in an unterminated record; it will be sealed on next append", "path", path)
	}
	return l, nil
}

// OpenReadOnly returns a log that can only be scanned. The file need not
// exist yet; a missing file scans as empty.
func OpenReadOnly(path string, opts ...Option) *File {
	return &File{path: path, opts: NewOptions(opts...), readOnly: true}
}

// endsTorn reports whether a non-empty file lacks a trailing newline.
func endsTorn(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

// Path returns the file path.
func (l *File) Path() string {
	return l.path
}

// Append durably writes s as one record. It returns after the record has been
// written with a single write call and fsynced. Appends are serialized, so
// records land in call order.
func (l *File) Append(ctx context.Context, s span.Span) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append span %s: %w", s.ID(), err)
	}
	if l.readOnly {
		return ErrReadOnly
	}

	line := append(s.ToJSON(), '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return ErrClosed
	}

	if l.torn {
		if _, err := l.f.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("seal torn record: %w", err)
		}
		l.torn = false
	}

	n, err := l.f.Write(line)
	if err != nil {
		if n > 0 {
			l.torn = true
		}
		return fmt.Errorf("append span %s: %w", s.ID(), err)
	}

	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync span %s: %w: %w", s.ID(), ErrNotSynced, err)
	}

	return nil
}

// Scan returns a lazy sequence over every record in append order. Each call
// reads the file from the start, so the sequence is restartable.
//
// Torn and corrupt records are skipped and reported. The only errors yielded
// are I/O errors and context cancellation; iteration stops after one.
func (l *File) Scan(ctx context.Context) iter.Seq2[span.Span, error] {
	return func(yield func(span.Span, error) bool) {
		f, err := os.Open(l.path)
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		if err != nil {
			yield(span.Span{}, fmt.Errorf("open span log: %w", err))
			return
		}
		defer f.Close()

		r := bufio.NewReaderSize(f, 64*1024)
		var lineNo int64
		for {
			if err := ctx.Err(); err != nil {
				yield(span.Span{}, err)
				return
			}

			line, err := r.ReadBytes('\n')
			if len(line) > 0 {
				lineNo++
			}
			if errors.Is(err, io.EOF) {
				if len(bytes.TrimSpace(line)) > 0 {
					l.opts.Report(Skipped{Position: lineNo, Torn: true})
				}
				return
			}
			if err != nil {
				yield(span.Span{}, fmt.Errorf("read span log: %w", err))
				return
			}

			s, ok := decodeRecord(line, lineNo, l.opts)
			if !ok {
				continue
			}
			if !yield(s, nil) {
				return
			}
		}
	}
}

// decodeRecord parses one record. Blank lines are ignored silently.
func decodeRecord(line []byte, pos int64, opts Options) (span.Span, bool) {
	body := bytes.TrimSpace(line)
	if len(body) == 0 {
		return span.Span{}, false
	}
	s, err := span.FromJSON(body, span.Strict())
	if err != nil {
		opts.Report(Skipped{Position: pos, Err: err})
		return span.Span{}, false
	}
	return s, true
}

// Close releases the file and its lock.
func (l *File) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
