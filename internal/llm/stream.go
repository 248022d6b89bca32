package llm

import (
	"context"
	"strings"
)

// StreamHeader describes a token stream before any token is read.
type StreamHeader struct {
	Model string
	// Condense is set on streams produced by the condense step.
	Condense bool
}

// Chunk is one streamed token delta, or the terminal error.
type Chunk struct {
	Text string
	Err  error
}

// Stream is a channel of token deltas.
type Stream struct {
	Header StreamHeader
	C      <-chan Chunk
}

// NewStream starts produce in a goroutine and returns the stream it feeds.
// The emit function reports false once ctx is done.
func NewStream(ctx context.Context, header StreamHeader, produce func(emit func(string) bool) error) *Stream {
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		emit := func(text string) bool {
			if text == "" {
				return ctx.Err() == nil
			}
			select {
			case ch <- Chunk{Text: text}:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if err := produce(emit); err != nil {
			select {
			case ch <- Chunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return &Stream{Header: header, C: ch}
}

// StaticStream returns a stream that yields text as a single chunk.
func StaticStream(header StreamHeader, text string) *Stream {
	ch := make(chan Chunk, 1)
	if text != "" {
		ch <- Chunk{Text: text}
	}
	close(ch)
	return &Stream{Header: header, C: ch}
}

// Collect drains s and returns the concatenated text.
func Collect(ctx context.Context, s *Stream) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case c, ok := <-s.C:
			if !ok {
				return sb.String(), nil
			}
			if c.Err != nil {
				return sb.String(), c.Err
			}
			sb.WriteString(c.Text)
		}
	}
}
