package history

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/stackdump/did-history/internal/diddoc"
	"github.com/stackdump/did-history/internal/historyerr"
)

// scannerLineSource adapts a bufio.Scanner over an io.Reader to LineSource.
type scannerLineSource struct {
	scanner *bufio.Scanner
}

// NewScannerLineSource wraps r as a LineSource, so any io.Reader (an
// os.File, as OpenFileLineSource uses, or an in-memory buffer) can drive
// the iterator.
func NewScannerLineSource(r io.Reader) LineSource {
	return &scannerLineSource{scanner: bufio.NewScanner(r)}
}

func (s *scannerLineSource) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}

// OpenFileLineSource opens path and returns a LineSource over its contents
// plus a closer the caller must invoke once done.
func OpenFileLineSource(path string) (LineSource, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("history: open log file: %w", err)
	}
	return NewScannerLineSource(f), f.Close, nil
}

// IterHistory returns a range-over-func iterator yielding every
// DocumentState from src in version order, per the cutoffs in opts. Range
// termination on the consumer's side (a `break`) stops the traversal
// early; any verification failure is delivered as the iterator's error
// value and then the sequence ends.
func IterHistory(ctx context.Context, src LineSource, opts Options) func(yield func(*diddoc.DocumentState, error) bool) {
	return func(yield func(*diddoc.DocumentState, error) bool) {
		it, err := NewIterator(ctx, src, opts)
		if err != nil {
			yield(nil, err)
			return
		}
		for {
			state, ok, err := it.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			if !yield(state, nil) {
				return
			}
		}
	}
}

// LoadHistory consumes the full (cutoff-bounded) traversal of src and
// returns the final DocumentState plus its aggregate DocumentMetadata. If
// a VersionID or VersionTime cutoff was requested but never reached, it
// fails with historyerr.ErrCutoffUnmet.
func LoadHistory(ctx context.Context, src LineSource, opts Options) (*diddoc.DocumentState, diddoc.DocumentMetadata, error) {
	it, err := NewIterator(ctx, src, opts)
	if err != nil {
		return nil, diddoc.DocumentMetadata{}, err
	}

	var created string
	var latest *diddoc.DocumentState
	for {
		state, ok, err := it.Next(ctx)
		if err != nil {
			return nil, diddoc.DocumentMetadata{}, err
		}
		if !ok {
			break
		}
		if created == "" {
			created = state.Timestamp
		}
		latest = state
	}

	if latest == nil {
		return nil, diddoc.DocumentMetadata{}, fmt.Errorf("history: empty document history: %w", historyerr.ErrMalformedLog)
	}

	if opts.VersionID != 0 && latest.VersionID != opts.VersionID {
		return nil, diddoc.DocumentMetadata{}, fmt.Errorf("history: version_id %d not reached: %w", opts.VersionID, historyerr.ErrCutoffUnmet)
	}
	if !opts.VersionTime.IsZero() {
		ts, err := time.Parse(timestampLayout, latest.Timestamp)
		if err != nil || ts.After(opts.VersionTime) {
			return nil, diddoc.DocumentMetadata{}, fmt.Errorf("history: version_time %s not reached: %w", opts.VersionTime.Format(timestampLayout), historyerr.ErrCutoffUnmet)
		}
	}

	meta := diddoc.DocumentMetadata{
		Created:     created,
		Updated:     latest.Timestamp,
		Deactivated: latest.Deactivated,
		VersionID:   latest.VersionID,
	}
	return latest, meta, nil
}
