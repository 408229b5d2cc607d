package process

import (
	"bytes"
	"io"
	"sync"
)

// prefixWriter re-emits child output with a "[name] " prefix applied to
// every line. Partial lines are buffered until their newline arrives so
// a chunk boundary in the middle of a line never splits the prefix.
type prefixWriter struct {
	mu     sync.Mutex
	dst    io.Writer
	prefix []byte
	buf    bytes.Buffer
}

// NewPrefixWriter wraps dst so that each written line carries the item
// name prefix. Safe for concurrent use.
func NewPrefixWriter(dst io.Writer, name string) io.Writer {
	return &prefixWriter{dst: dst, prefix: []byte("[" + name + "] ")}
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// No newline yet; keep the partial line buffered.
			w.buf.Write(line)
			break
		}
		if _, err := w.dst.Write(append(append([]byte(nil), w.prefix...), line...)); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush emits any buffered partial line. Called once after the child
// exits so trailing output without a newline is not lost.
func (w *prefixWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	rest := append(w.buf.Bytes(), '\n')
	_, _ = w.dst.Write(append(append([]byte(nil), w.prefix...), rest...))
	w.buf.Reset()
}
