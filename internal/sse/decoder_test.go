package sse

import (
	"context"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloStream = "data: {\"id\":\"x\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"

// pieceReader returns one piece per Read call.
type pieceReader struct {
	pieces []string
	closed atomic.Bool
}

func (r *pieceReader) Read(p []byte) (int, error) {
	if r.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	if len(r.pieces) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.pieces[0])
	r.pieces[0] = r.pieces[0][n:]
	if r.pieces[0] == "" {
		r.pieces = r.pieces[1:]
	}
	return n, nil
}

func (r *pieceReader) Close() error {
	r.closed.Store(true)
	return nil
}

func collect(t *testing.T, d *Decoder) []string {
	t.Helper()
	var texts []string
	for {
		chunk, err := d.Next()
		if err == io.EOF {
			return texts
		}
		require.NoError(t, err)
		require.NotEmpty(t, chunk.Choices)
		if c := chunk.Choices[0].Delta.Content; c != nil {
			texts = append(texts, *c)
		}
	}
}

func TestDecoder_SingleChunkThenDone(t *testing.T) {
	body := &pieceReader{pieces: []string{helloStream}}
	d := NewDecoder(context.Background(), body)

	assert.Equal(t, []string{"hi"}, collect(t, d))
	assert.True(t, body.closed.Load(), "body must be released at [DONE]")

	_, err := d.Next()
	assert.Equal(t, io.EOF, err, "Next after the end keeps returning io.EOF")
}

func TestDecoder_SplitAtEveryOffset(t *testing.T) {
	for i := 1; i < len(helloStream); i++ {
		body := &pieceReader{pieces: []string{helloStream[:i], helloStream[i:]}}
		d := NewDecoder(context.Background(), body)

		assert.Equal(t, []string{"hi"}, collect(t, d), "split at %d", i)
		assert.Zero(t, d.Skipped(), "split at %d", i)
	}
}

func TestDecoder_OneByteReads(t *testing.T) {
	pieces := make([]string, 0, len(helloStream))
	for _, b := range []byte(helloStream) {
		pieces = append(pieces, string(b))
	}
	d := NewDecoder(context.Background(), &pieceReader{pieces: pieces})

	assert.Equal(t, []string{"hi"}, collect(t, d))
}

func TestDecoder_DoneStopsReading(t *testing.T) {
	stream := helloStream + "data: {\"id\":\"after\",\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n\n"
	d := NewDecoder(context.Background(), &pieceReader{pieces: []string{stream}})

	assert.Equal(t, []string{"hi"}, collect(t, d))
}

func TestDecoder_SkipsMalformedAndNonDataLines(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive comment",
		"event: message",
		"data: {not json",
		"",
		"data: {\"id\":\"1\",\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\r",
		"",
		"data:{\"id\":\"2\",\"choices\":[{\"delta\":{\"content\":\"b\"}}]}",
		"data: ",
		"data: [DONE]",
		"",
	}, "\n")
	d := NewDecoder(context.Background(), &pieceReader{pieces: []string{stream}})

	assert.Equal(t, []string{"a", "b"}, collect(t, d))
	assert.Equal(t, 1, d.Skipped())
}

func TestDecoder_EndWithoutDone(t *testing.T) {
	stream := "data: {\"id\":\"1\",\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n"
	body := &pieceReader{pieces: []string{stream}}
	d := NewDecoder(context.Background(), body)

	assert.Equal(t, []string{"partial"}, collect(t, d))
	assert.True(t, body.closed.Load())
}

func TestDecoder_FrameTooLarge(t *testing.T) {
	stream := "data: \"" + strings.Repeat("x", MaxFrameSize+10) + "\"\n\n"
	d := NewDecoder(context.Background(), &pieceReader{pieces: []string{stream}})

	_, err := d.Next()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

// blockingBody blocks in Read until closed.
type blockingBody struct {
	closed chan struct{}
}

func (b *blockingBody) Read(p []byte) (int, error) {
	<-b.closed
	return 0, io.ErrClosedPipe
}

func (b *blockingBody) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}

func TestDecoder_ContextCancellationUnblocksNext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDecoder(ctx, &blockingBody{closed: make(chan struct{})})

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Next()
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancellation")
	}
}

func TestDecoder_CloseIsIdempotent(t *testing.T) {
	body := &pieceReader{pieces: []string{helloStream}}
	d := NewDecoder(context.Background(), body)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.True(t, body.closed.Load())
}
