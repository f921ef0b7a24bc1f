package generator

import (
	"context"
	"io"

	"github.com/dvcrn/copilot-proxy/internal/gemini"
	"github.com/dvcrn/copilot-proxy/internal/sse"
	"github.com/dvcrn/copilot-proxy/internal/transform"
)

// Stream yields generic responses from a streaming backend call. Chunks that
// carry no text are skipped.
type Stream struct {
	decoder    *sse.Decoder
	translator transform.Translator
}

func newStream(ctx context.Context, body io.ReadCloser, translator transform.Translator) *Stream {
	return &Stream{decoder: sse.NewDecoder(ctx, body), translator: translator}
}

// Next returns the next response, or io.EOF when the stream has ended.
func (s *Stream) Next() (*gemini.Response, error) {
	for {
		chunk, err := s.decoder.Next()
		if err != nil {
			return nil, err
		}
		if resp := s.translator.ToGenericStreamChunk(chunk); resp != nil {
			return resp, nil
		}
	}
}

// Skipped returns how many malformed frames were dropped.
func (s *Stream) Skipped() int {
	return s.decoder.Skipped()
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.decoder.Close()
}
