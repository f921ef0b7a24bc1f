// Package sse decodes the server-sent-event stream of a chat-completions
// backend into typed chunks.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/dvcrn/copilot-proxy/internal/logger"
	"github.com/dvcrn/copilot-proxy/internal/openai"
)

// DoneSentinel is the payload that terminates a stream.
const DoneSentinel = "[DONE]"

// MaxFrameSize bounds a single SSE line.
const MaxFrameSize = 1 << 20

var dataPrefix = []byte("data:")

// Decoder is a forward-only iterator over the chunks of one stream. It is
// not safe for concurrent use and cannot be restarted.
type Decoder struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	stop    func() bool

	closeOnce sync.Once
	done      bool
	err       error
	skipped   int
}

// NewDecoder reads from body until the done sentinel, end of input or
// cancellation of ctx. Cancelling ctx closes body so a blocked Next returns.
func NewDecoder(ctx context.Context, body io.ReadCloser) *Decoder {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)

	d := &Decoder{ctx: ctx, body: body, scanner: scanner}
	d.stop = context.AfterFunc(ctx, func() { d.closeBody() })
	return d
}

// Next returns the next chunk. It returns io.EOF once the stream is
// finished; the body has been released by then.
func (d *Decoder) Next() (*openai.ChatCompletionChunk, error) {
	if d.done {
		return nil, d.err
	}

	for d.scanner.Scan() {
		line := bytes.TrimRight(d.scanner.Bytes(), "\r")
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if len(payload) == 0 {
			continue
		}
		if string(payload) == DoneSentinel {
			return nil, d.finish(io.EOF)
		}

		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			d.skipped++
			logger.Get().Warn().Err(err).Int("bytes", len(payload)).Msg("Skipping malformed stream frame")
			continue
		}
		return &chunk, nil
	}

	err := d.scanner.Err()
	switch {
	case d.ctx.Err() != nil:
		err = d.ctx.Err()
	case err == nil || errors.Is(err, io.EOF):
		err = io.EOF
	}
	return nil, d.finish(err)
}

// Skipped returns how many malformed frames have been dropped so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Close releases the body. It is safe to call more than once.
func (d *Decoder) Close() error {
	d.stop()
	return d.closeBody()
}

func (d *Decoder) closeBody() error {
	var err error
	d.closeOnce.Do(func() {
		err = d.body.Close()
	})
	return err
}

func (d *Decoder) finish(err error) error {
	d.done = true
	d.err = err
	d.Close()
	return err
}
