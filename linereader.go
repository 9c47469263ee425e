package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"time"
)

// maxLineLength bounds a single console line; modded servers print very long
// stack traces and registry dumps. Longer lines are truncated, never fatal.
const maxLineLength = 1024 * 1024

// LineReader turns one output pipe of one server process into RawLines. A
// new LineReader is created for every spawn.
type LineReader struct {
	r      io.Reader
	stream Stream
	now    func() time.Time
}

func NewLineReader(r io.Reader, stream Stream) *LineReader {
	return &LineReader{r: r, stream: stream, now: time.Now}
}

// Run forwards lines to out until the pipe reaches EOF. Lines are stamped on
// arrival. Once ctx is done the pipe is still drained to EOF but lines are
// discarded, so a stopping server never blocks on a full pipe.
func (lr *LineReader) Run(ctx context.Context, out chan<- RawLine) error {
	br := bufio.NewReaderSize(lr.r, 64*1024)
	var buf []byte
	truncated := false
	for {
		chunk, more, err := br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if room := maxLineLength - len(buf); room >= len(chunk) {
			buf = append(buf, chunk...)
		} else {
			buf = append(buf, chunk[:room]...)
			truncated = true
		}
		if more {
			continue
		}

		if truncated {
			log.Printf("server %s line longer than %d bytes, truncated", lr.stream, maxLineLength)
		}
		lr.emit(ctx, out, string(buf))
		buf = buf[:0]
		truncated = false
	}
}

func (lr *LineReader) emit(ctx context.Context, out chan<- RawLine, text string) {
	if ctx.Err() != nil {
		return
	}
	select {
	case out <- RawLine{Text: text, Stream: lr.stream, Arrival: lr.now()}:
	case <-ctx.Done():
	}
}
