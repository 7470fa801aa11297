package scanner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/coder/quartz"

	"github.com/0xmhha/token-rollup/pkg/bucket"
	"github.com/0xmhha/token-rollup/pkg/logger"
	"github.com/0xmhha/token-rollup/pkg/parser"
	"github.com/0xmhha/token-rollup/pkg/store"
)

// ctxCheckLines is how often the line loop polls the context.
const ctxCheckLines = 1000

// Scanner reads log files past their committed offset.
type Scanner struct {
	store    Committer
	registry *parser.Registry
	logger   logger.Logger
	config   Config
}

// New creates a new scanner.
//
// Parameters:
//   - cfg: Scanner configuration
//   - log: Logger instance
//
// Returns:
//   - Configured Scanner
//   - Error if configuration is invalid
func New(cfg Config, log logger.Logger) (*Scanner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("parser registry is required")
	}

	if cfg.MaxReadBytes <= 0 {
		cfg.MaxReadBytes = DefaultMaxReadBytes
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}

	return &Scanner{
		store:    cfg.Store,
		registry: cfg.Registry,
		logger:   log,
		config:   cfg,
	}, nil
}

// ScanFile reads the bytes of state.Path beyond state.ByteOffset and
// commits their usage.
//
// Returns:
//   - The scan result; Result.State is the committed state on success
//   - An error wrapping ErrIO when the file cannot be read
//   - An error wrapping store.ErrCommit when the commit fails
//   - ctx.Err() when ctx ends before the commit
//
// On any error nothing has been written.
func (s *Scanner) ScanFile(ctx context.Context, state store.FileState) (Result, error) {
	res := Result{State: state}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	p, err := s.registry.Lookup(state.Provider)
	if err != nil {
		return res, fmt.Errorf("%s: %w", state.Path, err)
	}

	info, err := os.Stat(state.Path)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrIO, err)
	}
	size := info.Size()

	offset := state.ByteOffset
	if size < offset {
		s.logger.Warn("file shrank, rescanning from start",
			"path", state.Path,
			"old_offset", offset,
			"file_size", size)
		offset = 0
		res.Rotated = true
	}

	window := size - offset
	if window > s.config.MaxReadBytes {
		res.Remaining = window - s.config.MaxReadBytes
		window = s.config.MaxReadBytes
	}

	var (
		events   []parser.UsageEvent
		consumed int64
	)
	if window > 0 {
		events, consumed, err = s.readWindow(ctx, p, state.Path, offset, window, &res)
		if err != nil {
			return res, err
		}
	}

	// Nothing new and nothing to record.
	if consumed == 0 && !res.Rotated && size == state.FileSize {
		return res, nil
	}

	next := state
	next.ByteOffset = offset + consumed
	next.FileSize = size
	next.LastScannedAt = s.config.Clock.Now().UTC()
	if runID := RunIDFrom(ctx); runID != "" {
		next.LastRunID = runID
	}
	deltas := bucket.Fold(events)

	if err := ctx.Err(); err != nil {
		s.logger.Debug("scan abandoned before commit",
			"path", state.Path,
			"error", err)
		return res, err
	}

	if err := s.store.Commit(ctx, store.CommitRequest{State: next, Deltas: deltas}); err != nil {
		return res, err
	}

	res.State = next
	res.Deltas = deltas
	res.Events = len(events)
	res.BytesConsumed = consumed
	res.Committed = true

	s.logger.Debug("file scanned",
		"path", state.Path,
		"provider", state.Provider,
		"offset", next.ByteOffset,
		"lines", res.Lines,
		"events", res.Events,
		"skipped", res.Skipped)

	return res, nil
}

// readWindow reads window bytes from offset and parses every complete
// line. It returns the events and the number of bytes up to and including
// the last line break.
func (s *Scanner) readWindow(
	ctx context.Context,
	p parser.ProviderParser,
	path string,
	offset, window int64,
	res *Result,
) ([]parser.UsageEvent, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			s.logger.Warn("failed to close file", "path", path, "error", closeErr)
		}
	}()

	src := parser.SourceFor(path)
	br := bufio.NewReaderSize(io.NewSectionReader(f, offset, window), 64*1024)

	var (
		events   []parser.UsageEvent
		consumed int64
		lines    int
	)
	for {
		line, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, 0, fmt.Errorf("%w: %s: %w", ErrIO, path, readErr)
		}

		if errors.Is(readErr, io.EOF) {
			// Trailing bytes without a line break are still being written.
			// A full window with no break at all can never complete, so it
			// is dropped to keep the file moving.
			if consumed == 0 && int64(len(line)) == window && window == s.config.MaxReadBytes {
				s.logger.Warn("line exceeds read cap, skipping",
					"path", path,
					"offset", offset,
					"bytes", window)
				res.Skipped++
				consumed = window
			}
			break
		}

		lineOffset := offset + consumed
		consumed += int64(len(line))

		body := bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(body)) == 0 {
			continue
		}
		res.Lines++

		ev, ok, parseErr := p.Parse(src, body)
		switch {
		case parseErr != nil:
			res.Skipped++
			s.logger.Debug("skipping line", "error", &parser.LineError{
				Path:   path,
				Offset: lineOffset,
				Data:   string(body),
				Err:    parseErr,
			})
		case ok:
			events = append(events, ev)
		}

		lines++
		if lines%ctxCheckLines == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
	}

	return events, consumed, nil
}
