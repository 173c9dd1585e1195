package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"chatstream/internal/domain"
)

const sseMaxLine = 1 << 20 // single SSE data line cap

var (
	sseDataPrefix = []byte("data: ")
	sseDoneMarker = []byte("[DONE]")
)

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into a StreamDelta using the provider-specific parseLine function.
// The channel always carries a terminal delta before it closes: Done when the
// provider signalled a clean end ([DONE] or a parsed Done delta), Err wrapping
// ErrStreamInterrupted when the connection dropped mid-stream or the body
// ended without a terminal marker. Cancelling ctx closes the channel without
// a terminal delta.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		emit := func(d domain.StreamDelta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), sseMaxLine)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Bytes()
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			data, ok := bytes.CutPrefix(line, sseDataPrefix)
			if !ok {
				continue
			}

			if bytes.Equal(data, sseDoneMarker) {
				emit(domain.StreamDelta{Done: true})
				return
			}

			delta, err := parseLine(data)
			if err != nil || delta == nil {
				// Unparseable or non-delta payload, move on.
				continue
			}
			if !emit(*delta) {
				return
			}
			if delta.Done {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		// The loop exits here only without a terminal marker: either the read
		// failed or the body ended early. Both are truncation.
		if err := scanner.Err(); err != nil {
			emit(domain.StreamDelta{Err: fmt.Errorf("%w: %v", domain.ErrStreamInterrupted, err)})
			return
		}
		emit(domain.StreamDelta{Err: domain.ErrStreamInterrupted})
	}()
	return ch
}
