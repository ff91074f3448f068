package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
)

// ErrWriterClosed is returned by Write and Close once the writer has been finalized
var ErrWriterClosed = errors.New("wav writer already finalized")

// writeBufferSize keeps small radio frames from turning into one syscall each
const writeBufferSize = 32 * 1024

// WAVWriter streams raw PCM into a WAV container on disk.
// The header is written with placeholder sizes on creation and patched on Close,
// so the file becomes independently playable once closed.
type WAVWriter struct {
	file     *os.File
	buf      *bufio.Writer
	dataSize uint32
	closed   bool

	mu sync.Mutex
}

// NewWAVWriter takes ownership of an open, empty file and writes the placeholder header
func NewWAVWriter(f *os.File) (*WAVWriter, error) {
	w := &WAVWriter{
		file: f,
		buf:  bufio.NewWriterSize(f, writeBufferSize),
	}

	header := newHeader(SampleRate, 0, 0)
	if err := binary.Write(w.buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return w, nil
}

// Write appends PCM bytes in arrival order with no reframing
func (w *WAVWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWriterClosed
	}

	if uint64(w.dataSize)+uint64(len(p)) > math.MaxUint32-HeaderSize {
		return 0, fmt.Errorf("WAV data chunk would exceed 4 GiB")
	}

	n, err := w.buf.Write(p)
	w.dataSize += uint32(n)
	if err != nil {
		return n, fmt.Errorf("failed to write audio data: %w", err)
	}
	return n, nil
}

// Close finalizes the container: flushes data, patches the header sizes and
// closes the file. The file handle is released even when patching fails.
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true

	err := w.finalize()
	if cerr := w.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close WAV file: %w", cerr)
	}
	return err
}

func (w *WAVWriter) finalize() error {
	// RIFF chunks are word aligned
	var padding uint32
	if w.dataSize%2 == 1 {
		padding = 1
		if err := w.buf.WriteByte(0); err != nil {
			return fmt.Errorf("failed to write pad byte: %w", err)
		}
	}

	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush audio data: %w", err)
	}

	header := newHeader(SampleRate, w.dataSize, padding)

	var sizes [4]byte
	binary.LittleEndian.PutUint32(sizes[:], header.ChunkSize)
	if _, err := w.file.WriteAt(sizes[:], 4); err != nil {
		return fmt.Errorf("failed to patch RIFF size: %w", err)
	}

	binary.LittleEndian.PutUint32(sizes[:], header.Subchunk2Size)
	if _, err := w.file.WriteAt(sizes[:], 40); err != nil {
		return fmt.Errorf("failed to patch data size: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAV file: %w", err)
	}

	return nil
}

var _ io.WriteCloser = (*WAVWriter)(nil)
