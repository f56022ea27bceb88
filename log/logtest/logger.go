/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"io"
	"os"
	"sync"

	"github.com/ssgreg/logf"

	"github.com/tollgate/tollgate/log"
)

// syncWriter encodes every entry right away, so output is never lost when a test fails.
type syncWriter struct {
	mu      sync.Mutex
	encoder logf.Encoder
	out     io.Writer
}

//nolint:gocritic // logf.EntryWriter passes entries by value.
func (w *syncWriter) WriteEntry(e logf.Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var buf logf.Buffer
	if err := w.encoder.Encode(&buf, e); err != nil {
		_, _ = io.WriteString(w.out, err.Error()+"\n")
		return
	}
	_, _ = w.out.Write(buf.Data)
}

// LoggerOpts represents options for NewLoggerWithOpts.
type LoggerOpts struct {
	// Output is os.Stderr by default.
	Output io.Writer
}

// NewLogger returns a debug level JSON logger writing to stderr.
func NewLogger() log.FieldLogger {
	return NewLoggerWithOpts(LoggerOpts{})
}

// NewLoggerWithOpts returns a debug level JSON logger writing to opts.Output.
func NewLoggerWithOpts(opts LoggerOpts) log.FieldLogger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	w := &syncWriter{
		encoder: logf.NewJSONEncoder(logf.JSONEncoderConfig{FieldKeyTime: "time", EncodeTime: logf.RFC3339NanoTimeEncoder}),
		out:     out,
	}
	return &log.LogfAdapter{Logger: logf.NewLogger(logf.LevelDebug, w)}
}
