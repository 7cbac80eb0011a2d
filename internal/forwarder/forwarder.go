// Package forwarder relays one child's output stream to the console.
//
// A Forwarder reads lines from its source until end of input and hands each
// right-trimmed line to a Sink together with the child's tag. Order within
// one source is preserved exactly; nothing is promised across sources.
//
// Lifecycle (followed by the supervisor):
//
//  1. f := forwarder.New(cfg)
//  2. g.Go(f.Run)       // one goroutine per child
//  3. child exits or its pipe is closed -> Run returns
//
// Forwarders are never signalled directly. They end when their stream does.
package forwarder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"unicode"
)

const (
	// readBufferSize is the line reader's buffer.
	readBufferSize = 64 * 1024

	// maxLineSize is the longest line forwarded. The rest of a longer line
	// is read and dropped.
	maxLineSize = 1024 * 1024
)

// Sink receives tagged lines. Implementations must be safe for concurrent
// use by several forwarders.
type Sink interface {
	WriteLine(tag, line string)
}

// Observer is notified of every forwarded line (after trimming), in order.
// Observers run on the forwarder goroutine and must not block.
type Observer func(line string)

// Config holds configuration for a Forwarder.
type Config struct {
	// Tag is the display tag, e.g. "BACKEND".
	Tag string

	// Source is the child's merged output stream.
	Source io.Reader

	// Sink receives every line.
	Sink Sink

	// Logger reports read failures. Defaults to slog.Default().
	Logger *slog.Logger

	// Observers are optional per-line hooks (tail buffer, stats, metrics).
	Observers []Observer
}

// Forwarder relays lines from one source to a sink.
type Forwarder struct {
	tag       string
	reader    io.Reader
	sink      Sink
	logger    *slog.Logger
	observers []Observer

	done chan struct{}

	// Stats (atomic for thread-safety)
	bytesRead  atomic.Int64
	linesRead  atomic.Int64
	readFailed atomic.Bool
}

// New creates a forwarder. It does not start reading until Run is called.
func New(cfg Config) *Forwarder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		tag:       cfg.Tag,
		reader:    cfg.Source,
		sink:      cfg.Sink,
		logger:    logger,
		observers: cfg.Observers,
		done:      make(chan struct{}),
	}
}

// Run reads lines until the stream ends. It returns nil on end of input or
// when the stream was closed underneath it, and a *StreamReadError for any
// other failure. The failure is reported to the sink once before returning.
func (f *Forwarder) Run() error {
	defer close(f.done)

	reader := bufio.NewReaderSize(f.reader, readBufferSize)

	var err error
	for {
		var raw []byte
		var dropped int
		raw, dropped, err = readLine(reader, maxLineSize)
		if err != nil && len(raw) == 0 {
			break
		}
		f.forward(raw, dropped)
		if err != nil {
			break
		}
	}

	if err == io.EOF || isClosed(err) {
		f.logger.Debug("forwarder_finished",
			"tag", f.tag,
			"lines", f.linesRead.Load(),
		)
		return nil
	}

	readErr := &StreamReadError{Tag: f.tag, Err: err}
	f.readFailed.Store(true)
	f.sink.WriteLine(f.tag, fmt.Sprintf("Error reading output: %v", err))
	f.logger.Warn("stream_read_error",
		"tag", f.tag,
		"lines", f.linesRead.Load(),
		"error", err,
	)
	return readErr
}

// forward hands one line to the sink and observers.
func (f *Forwarder) forward(raw []byte, dropped int) {
	f.bytesRead.Add(int64(len(raw) + dropped + 1)) // +1 for newline
	f.linesRead.Add(1)

	line := strings.TrimRightFunc(string(raw), unicode.IsSpace)
	if dropped > 0 {
		line = fmt.Sprintf("%s ... [%d bytes truncated]", line, dropped)
		f.logger.Debug("line_truncated", "tag", f.tag, "dropped", dropped)
	}
	f.sink.WriteLine(f.tag, line)
	for _, obs := range f.observers {
		obs(line)
	}
}

// readLine returns the next line without its terminator, keeping at most
// limit bytes. The remainder of a longer line is consumed and counted in
// dropped. A non-empty line may come with an error when the stream ends
// without a final newline.
func readLine(r *bufio.Reader, limit int) (line []byte, dropped int, err error) {
	for {
		var frag []byte
		var isPrefix bool
		frag, isPrefix, err = r.ReadLine()
		if room := limit - len(line); len(frag) > room {
			dropped += len(frag) - room
			frag = frag[:room]
		}
		line = append(line, frag...)
		if err != nil || !isPrefix {
			return line, dropped, err
		}
	}
}

// isClosed reports whether err means the read end was closed by the
// supervisor during shutdown rather than a genuine failure.
func isClosed(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// Done returns a channel closed when Run has returned.
func (f *Forwarder) Done() <-chan struct{} {
	return f.done
}

// Stats returns (bytesRead, linesRead, healthy).
func (f *Forwarder) Stats() (bytesRead int64, linesRead int64, healthy bool) {
	return f.bytesRead.Load(),
		f.linesRead.Load(),
		!f.readFailed.Load()
}

// Tag returns the display tag.
func (f *Forwarder) Tag() string {
	return f.tag
}

// StreamReadError reports that reading a child's output failed. It is
// recovered locally: only the affected forwarder stops.
type StreamReadError struct {
	Tag string
	Err error
}

func (e *StreamReadError) Error() string {
	return fmt.Sprintf("[%s] error reading output: %v", e.Tag, e.Err)
}

func (e *StreamReadError) Unwrap() error {
	return e.Err
}
