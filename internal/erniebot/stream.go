package erniebot

import (
	"bufio"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Stream yields the fragments of a streamed completion in arrival order.
// Recv returns io.EOF once the fragment marked is_end has been delivered.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	apiType string
	status  int

	done   bool
	single *Response

	closeOnce sync.Once
}

func newStream(resp *http.Response, apiType string) *Stream {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &Stream{
		body:    resp.Body,
		scanner: scanner,
		apiType: apiType,
		status:  resp.StatusCode,
	}
}

// newSingleStream wraps a complete response as a one-fragment stream.
func newSingleStream(resp *Response) *Stream {
	return &Stream{single: resp}
}

// Recv returns the next fragment.
func (s *Stream) Recv() (*Response, error) {
	if s.done {
		return nil, io.EOF
	}

	if s.single != nil {
		s.done = true
		return s.single, nil
	}

	data, err := s.nextEvent()
	if err != nil {
		s.done = true
		s.Close()
		return nil, err
	}

	resp, err := decodePayload(s.status, []byte(data), s.apiType)
	if err != nil {
		s.done = true
		s.Close()
		return nil, err
	}
	if resp.IsEnd {
		s.done = true
		s.Close()
	}
	return resp, nil
}

// nextEvent reads lines until one complete data payload is buffered.
// Bare JSON lines are accepted as data; some gateways drop the prefix.
func (s *Stream) nextEvent() (string, error) {
	var data strings.Builder

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if data.Len() > 0 {
				return data.String(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "id:") {
			continue
		}

		var chunk string
		switch {
		case strings.HasPrefix(line, "data:"):
			chunk = strings.TrimSpace(line[5:])
		case strings.HasPrefix(strings.TrimSpace(line), "{") && data.Len() == 0:
			return strings.TrimSpace(line), nil
		default:
			continue
		}

		if chunk == "[DONE]" {
			return "", io.EOF
		}
		if data.Len() > 0 {
			data.WriteByte('\n')
		}
		data.WriteString(chunk)
	}

	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	if data.Len() > 0 {
		return data.String(), nil
	}
	return "", io.EOF
}

// Close releases the underlying connection. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.body != nil {
			err = s.body.Close()
		}
	})
	return err
}
