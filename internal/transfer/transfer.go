// Package transfer reassembles large files sent as ordered chunk sequences
// over the socket. Buffers are owned by a single connection and discarded
// unconditionally on disconnect; there is no cross-connection resumption.
package transfer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadChunk is returned for chunks that cannot be placed in a buffer.
var ErrBadChunk = errors.New("transfer: bad chunk")

// Assembler collects chunks per file name until every index is filled.
// It is not safe for concurrent use: the owning connection's event loop is
// the only caller.
type Assembler struct {
	pending map[string][]string
}

// NewAssembler creates an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{pending: make(map[string][]string)}
}

// Add stores chunk data at index for fileName. A duplicate index overwrites
// the previous data. When every index 0..totalChunks-1 holds data, the
// chunks are joined in order, the buffer is cleared, and the complete
// payload is returned with done=true.
func (a *Assembler) Add(fileName string, index, totalChunks int, data string) (payload string, done bool, err error) {
	if fileName == "" {
		return "", false, fmt.Errorf("%w: file name is required", ErrBadChunk)
	}
	if totalChunks <= 0 {
		return "", false, fmt.Errorf("%w: totalChunks %d", ErrBadChunk, totalChunks)
	}
	if index < 0 || index >= totalChunks {
		return "", false, fmt.Errorf("%w: index %d out of range [0,%d)", ErrBadChunk, index, totalChunks)
	}
	if data == "" {
		return "", false, fmt.Errorf("%w: empty chunk data", ErrBadChunk)
	}

	buf, ok := a.pending[fileName]
	if !ok || len(buf) != totalChunks {
		// First chunk, or the client restarted the transfer with a
		// different chunk count: start fresh.
		buf = make([]string, totalChunks)
		a.pending[fileName] = buf
	}
	buf[index] = data

	for _, c := range buf {
		if c == "" {
			return "", false, nil
		}
	}

	delete(a.pending, fileName)
	return strings.Join(buf, ""), true, nil
}

// Drop discards the buffer for fileName, if any.
func (a *Assembler) Drop(fileName string) {
	delete(a.pending, fileName)
}

// Reset discards every buffer. Called on disconnect.
func (a *Assembler) Reset() {
	a.pending = make(map[string][]string)
}

// Pending returns the number of in-progress transfers.
func (a *Assembler) Pending() int {
	return len(a.pending)
}
