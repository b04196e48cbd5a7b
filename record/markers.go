// Package record persists marker sets to Parquet files.
package record

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/cwbudde/algo-scope/dsp/marker"
)

// MarkerRow is one active marker of one spectrum update.
type MarkerRow struct {
	TimeNs    int64   `parquet:"time_ns"`
	Transform string  `parquet:"transform,dict"`
	Index     int32   `parquet:"index"`
	Bin       int32   `parquet:"bin"`
	X         float64 `parquet:"x"`
	Y         float64 `parquet:"y"`
}

// DefaultBatch is the number of rows buffered before they are written.
const DefaultBatch = 1024

// Option configures a MarkerWriter.
type Option func(*MarkerWriter)

// WithBatch sets the number of buffered rows.
func WithBatch(n int) Option {
	return func(m *MarkerWriter) {
		if n > 0 {
			m.batch = n
		}
	}
}

// WithMetadata adds a key/value pair to the file footer.
func WithMetadata(key, value string) Option {
	return func(m *MarkerWriter) {
		m.meta = append(m.meta, parquet.KeyValueMetadata(key, value))
	}
}

// WithLogger sets the logger used to report write failures.
func WithLogger(l *zap.Logger) Option {
	return func(m *MarkerWriter) {
		if l != nil {
			m.log = l
		}
	}
}

// MarkerWriter records marker sets as Parquet rows. It implements the
// session's marker sink; the first write error is kept and returned by
// Flush and Close.
type MarkerWriter struct {
	log   *zap.Logger
	batch int
	meta  []parquet.WriterOption

	mu     sync.Mutex
	w      *parquet.GenericWriter[MarkerRow]
	file   io.Closer
	rows   []MarkerRow
	total  int64
	err    error
	closed bool
}

// NewMarkerWriter writes to w. Close does not close w.
func NewMarkerWriter(w io.Writer, opts ...Option) *MarkerWriter {
	m := &MarkerWriter{log: zap.NewNop(), batch: DefaultBatch}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.w = parquet.NewGenericWriter[MarkerRow](w, m.meta...)
	m.rows = make([]MarkerRow, 0, m.batch)
	return m
}

// Create writes to a new file at path. Close closes the file.
func Create(path string, opts ...Option) (*MarkerWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	m := NewMarkerWriter(f, opts...)
	m.file = f
	return m, nil
}

// Markers buffers one row per active marker.
func (m *MarkerWriter) Markers(name string, at time.Time, markers []marker.Marker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.err != nil {
		return
	}
	for j, mk := range markers {
		if !mk.Active {
			continue
		}
		m.rows = append(m.rows, MarkerRow{
			TimeNs:    at.UnixNano(),
			Transform: name,
			Index:     int32(j),
			Bin:       int32(mk.Bin),
			X:         mk.X,
			Y:         mk.Y,
		})
	}
	if len(m.rows) >= m.batch {
		m.flush()
	}
}

// Rows returns the number of rows handed to the Parquet writer.
func (m *MarkerWriter) Rows() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Flush writes the buffered rows.
func (m *MarkerWriter) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flush()
	return m.err
}

func (m *MarkerWriter) flush() {
	if len(m.rows) == 0 || m.err != nil {
		return
	}
	n, err := m.w.Write(m.rows)
	m.total += int64(n)
	m.rows = m.rows[:0]
	if err != nil {
		m.err = fmt.Errorf("record: write markers: %w", err)
		m.log.Error("marker recording stopped", zap.Error(err))
	}
}

// Close flushes, writes the footer and closes the file opened by Create.
func (m *MarkerWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return m.err
	}
	m.closed = true
	m.flush()

	errs := []error{m.err}
	if err := m.w.Close(); err != nil {
		errs = append(errs, fmt.Errorf("record: close writer: %w", err))
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("record: close file: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ReadMarkers reads every row of a marker file.
func ReadMarkers(r io.ReaderAt) ([]MarkerRow, error) {
	pr := parquet.NewGenericReader[MarkerRow](r)
	defer pr.Close()

	rows := make([]MarkerRow, pr.NumRows())
	n, err := pr.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("record: read markers: %w", err)
	}
	return rows[:n], nil
}
