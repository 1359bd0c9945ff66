// Package common holds the wire-level pieces shared by the tracker and
// the peer: line framing, tokenizing, and the protocol constants both
// sides must agree on.
package common

import (
	"bufio"
	"io"
	"net"
	"strings"

	"github.com/pkg/errors"
)

const (
	// PieceSize is the fixed piece length in bytes. Both the serving
	// endpoint and the download orchestrator assume this exact value.
	PieceSize = 524288

	// ReadBufferSize is the minimum per-read buffer on command
	// connections. UPLOAD_FILE lines carry a piece-hash blob that grows
	// with file size, so the tracker must be able to take in long lines.
	ReadBufferSize = 64 * 1024
)

// Peer-protocol reply sentinels.
const (
	RespPieceData      = "PIECE_DATA"
	RespPieceNotFound  = "PIECE_NOT_FOUND"
	RespInvalidRequest = "INVALID_REQUEST"
)

// WriteLine sends one newline-terminated message on conn.
func WriteLine(conn net.Conn, s string) error {
	if _, err := conn.Write([]byte(s + "\n")); err != nil {
		return errors.Wrap(err, "write line")
	}
	return nil
}

// LineReader frames newline-terminated requests and replies. It wraps
// the connection in a buffer large enough for long upload commands and
// leaves any bytes after the newline (a piece payload, for instance)
// readable through Reader.
type LineReader struct {
	r *bufio.Reader
}

func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, ReadBufferSize)}
}

// ReadLine returns the next line without its trailing newline.
func (lr *LineReader) ReadLine() (string, error) {
	line, err := lr.r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			// Peer closed without a final newline; take what arrived.
			return line, nil
		}
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// Reader exposes the underlying buffered reader so callers can consume
// raw payload bytes that follow a header line.
func (lr *LineReader) Reader() io.Reader {
	return lr.r
}

// Fields tokenizes a command line on whitespace.
func Fields(s string) []string {
	return strings.Fields(s)
}
