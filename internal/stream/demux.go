// Package stream decodes the multiplexed stdout/stderr stream produced by a
// container engine exec attach.
//
// Each frame is an 8-byte header followed by its payload. Byte 0 selects the
// stream (1 = stdout, 2 = stderr), bytes 1-3 are unused and bytes 4-7 hold the
// payload length as a big-endian uint32.
package stream

import (
	"bytes"
	"encoding/binary"
	"strings"
	"sync"
)

// Stream selectors recognised in a frame header.
const (
	Stdout byte = 1
	Stderr byte = 2
)

const headerLen = 8

// Demuxer is an io.Writer that reassembles frames across writes and
// accumulates the stdout and stderr payloads in arrival order.
//
// Bytes that cannot be decoded as frames are kept as raw text:
//   - a frame declaring a zero-length payload switches the decoder to raw mode
//     for the rest of the stream;
//   - an incomplete header or payload still pending on Close is appended as-is.
//
// For input delivered in a single write this yields exactly the same text as a
// decoder that gives up on the first short or malformed frame of a chunk.
type Demuxer struct {
	mu      sync.Mutex
	pending []byte
	out     bytes.Buffer
	raw     bool
}

// NewDemuxer returns an empty Demuxer.
func NewDemuxer() *Demuxer {
	return &Demuxer{}
}

// Write implements io.Writer. It never returns an error.
func (d *Demuxer) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.raw {
		d.out.Write(p)
		return len(p), nil
	}
	d.pending = append(d.pending, p...)
	d.decode()
	return len(p), nil
}

func (d *Demuxer) decode() {
	for len(d.pending) >= headerLen {
		size := uint64(binary.BigEndian.Uint32(d.pending[4:headerLen]))
		if size == 0 {
			d.raw = true
			d.out.Write(d.pending)
			d.pending = nil
			return
		}
		end := uint64(headerLen) + size
		if uint64(len(d.pending)) < end {
			return
		}
		switch d.pending[0] {
		case Stdout, Stderr:
			d.out.Write(d.pending[headerLen:end])
		}
		d.pending = d.pending[end:]
	}
}

// Close flushes any undecoded remainder as raw text.
func (d *Demuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) > 0 {
		d.out.Write(d.pending)
		d.pending = nil
	}
	return nil
}

// Text flushes the decoder and returns everything decoded so far, unmodified.
func (d *Demuxer) Text() string {
	_ = d.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out.String()
}

// Decode demultiplexes a complete stream held in memory.
func Decode(b []byte) string {
	d := NewDemuxer()
	_, _ = d.Write(b)
	return d.Text()
}

// Clean trims surrounding whitespace and then any leading control characters
// (0x00-0x08, 0x0E-0x1F, 0x7F) left over from unframed output.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimLeftFunc(s, isControl)
}

func isControl(r rune) bool {
	return (r >= 0x00 && r <= 0x08) || (r >= 0x0e && r <= 0x1f) || r == 0x7f
}
