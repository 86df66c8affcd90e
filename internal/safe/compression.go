// internal/safe/compression.go
package safe

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// compressionManager deflates objects in the zlib container format.
type compressionManager struct {
	level int

	// Writer and buffer pools
	writers sync.Pool
	bufs    sync.Pool
}

func newCompressionManager(level int) (*compressionManager, error) {
	// Validate the level once up front so pooled writers cannot fail.
	w, err := zlib.NewWriterLevel(io.Discard, level)
	if err != nil {
		return nil, fmt.Errorf("creating test encoder: %w", err)
	}
	w.Close()

	cm := &compressionManager{
		level: level,
		writers: sync.Pool{
			New: func() interface{} {
				w, _ := zlib.NewWriterLevel(io.Discard, level)
				return w
			},
		},
		bufs: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024)) // 32KB
			},
		},
	}

	return cm, nil
}

// compress deflates content and returns a freshly allocated slice.
func (cm *compressionManager) compress(content []byte) ([]byte, error) {
	w := cm.writers.Get().(*zlib.Writer)
	defer cm.writers.Put(w)

	buf := cm.bufs.Get().(*bytes.Buffer)
	defer cm.bufs.Put(buf)
	buf.Reset()

	w.Reset(buf)
	if _, err := w.Write(content); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing compression: %w", err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// decompress inflates a zlib stream.
func (cm *compressionManager) decompress(content []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("opening zlib stream: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("inflating: %w", err)
	}
	return data, nil
}
