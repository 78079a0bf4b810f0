package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"hf-gateway/internal/metrics"
	"hf-gateway/internal/models"
)

// Frame is one client-side stream unit: a chunk or the terminator.
type Frame struct {
	Chunk *models.ClientStreamChunk
	Done  bool
}

// DoneFrame is the stream terminator.
var DoneFrame = Frame{Done: true}

var doneLine = []byte("data: [DONE]\n\n")

// Encode renders the frame as a single SSE data line.
func (f Frame) Encode() ([]byte, error) {
	if f.Done {
		return doneLine, nil
	}
	data, err := json.Marshal(f.Chunk)
	if err != nil {
		return nil, fmt.Errorf("marshal stream chunk: %w", err)
	}
	out := make([]byte, 0, len(data)+8)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out, nil
}

// Stream pulls upstream events on demand and hands back client frames.
// Each call to Next reads at most one upstream unit, so nothing is
// buffered beyond the unit being processed.
type Stream struct {
	ctx     context.Context
	src     Source
	rf      *Reframer
	release func()
	pending []Frame

	closeOnce sync.Once
	closeErr  error
}

// New builds a Stream over src. release, if non-nil, runs on Close; it is
// where the caller cancels the upstream request context.
func New(ctx context.Context, src Source, rf *Reframer, release func()) *Stream {
	return &Stream{ctx: ctx, src: src, rf: rf, release: release}
}

// ID returns the client-facing stream id once established.
func (s *Stream) ID() string { return s.rf.ID() }

// Next returns the next client frame, or io.EOF once the terminator has
// been returned. A terminator is always produced before io.EOF, whatever
// way the upstream ends.
func (s *Stream) Next() (Frame, error) {
	for len(s.pending) == 0 {
		if s.rf.State() == Terminated {
			_ = s.Close()
			return Frame{}, io.EOF
		}
		if err := s.ctx.Err(); err != nil {
			s.pending = s.rf.Fail(err)
			continue
		}

		ev, err := s.src.Next()
		switch {
		case err == nil:
			s.pending = s.rf.Process(ev)
		case errors.Is(err, io.EOF):
			s.pending = s.rf.Finish()
		default:
			if ctxErr := s.ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = fmt.Errorf("%w: %w", ctxErr, err)
			}
			s.pending = s.rf.Fail(err)
		}
	}

	frame := s.pending[0]
	s.pending = s.pending[1:]
	if frame.Done {
		// Nothing is read after the terminator; drop the upstream connection now.
		_ = s.Close()
	}
	return frame, nil
}

// Close releases the upstream connection. It is safe to call repeatedly.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.src.Close()
		if s.release != nil {
			s.release()
		}
	})
	return s.closeErr
}

// Sink is the transport side of a stream. Flush is called after every frame.
type Sink interface {
	io.Writer
	Flush()
}

// Copy drains s into sink, flushing after each frame, and returns the
// number of frames written. On a write failure (client gone) the upstream
// is released immediately.
func Copy(sink Sink, s *Stream) (int, error) {
	defer s.Close()

	written := 0
	for {
		frame, err := s.Next()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}

		data, err := frame.Encode()
		if err != nil {
			return written, err
		}
		if _, err := sink.Write(data); err != nil {
			return written, fmt.Errorf("write stream frame: %w", err)
		}
		sink.Flush()
		written++

		if frame.Done {
			metrics.StreamUnitsTotal.WithLabelValues(metrics.UnitTerminator).Inc()
		} else {
			metrics.StreamUnitsTotal.WithLabelValues(metrics.UnitChunk).Inc()
		}
	}
}
