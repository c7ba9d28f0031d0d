package openai

import (
	"bufio"
	"io"
	"strings"
)

// sseStream reads newline-delimited "data: {...}" payloads from an
// upstream SSE body until the [DONE] sentinel or transport close.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func newChunkStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	// Tool-call argument chunks can get large; give the scanner room.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{body: body, scanner: scanner}
}

// Next returns the next data payload, or io.EOF when the stream ends.
func (s *sseStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == doneSentinel {
			s.done = true
			return nil, io.EOF
		}
		if payload == "" {
			continue
		}
		return []byte(payload), nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
