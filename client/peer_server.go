package main

import (
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/afero"

	"peershare/common"
)

// pieceSearchPaths is the fixed candidate list the endpoint probes for
// a requested file. Uploaders and servers rely on this exact order.
func pieceSearchPaths(filename string) []string {
	return []string{
		filename,
		"client/" + filename,
		"./" + filename,
		"../" + filename,
	}
}

// PieceServer answers GET_PIECE requests from other peers. One request
// per connection; the worker replies and closes.
type PieceServer struct {
	fs      afero.Fs
	ln      *net.TCPListener
	store   *Store // optional serve counters, nil outside the daemon
	running atomic.Bool
}

func NewPieceServer(fs afero.Fs, ln net.Listener, store *Store) *PieceServer {
	s := &PieceServer{fs: fs, ln: ln.(*net.TCPListener), store: store}
	s.running.Store(true)
	return s
}

// Serve blocks until Stop, waking every second to observe the running
// flag.
func (s *PieceServer) Serve() {
	for s.running.Load() {
		s.ln.SetDeadline(time.Now().Add(time.Second))
		conn, err := s.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !s.running.Load() {
				return
			}
			glog.Warningf("peer accept: %v", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *PieceServer) Stop() {
	s.running.Store(false)
	s.ln.Close()
}

func (s *PieceServer) handleConn(conn net.Conn) {
	defer conn.Close()

	request, err := common.NewLineReader(conn).ReadLine()
	if err != nil {
		// Probe connections close without sending anything.
		return
	}

	tokens := common.Fields(request)
	if len(tokens) < 3 || tokens[0] != "GET_PIECE" {
		common.WriteLine(conn, common.RespInvalidRequest)
		return
	}
	filename := tokens[1]
	index, err := strconv.Atoi(tokens[2])
	if err != nil {
		common.WriteLine(conn, common.RespInvalidRequest)
		return
	}

	data, ok := s.readPiece(filename, index)
	if !ok {
		common.WriteLine(conn, common.RespPieceNotFound)
		return
	}

	// Header and payload may go out in separate sends; receivers
	// tolerate either.
	if err := common.WriteLine(conn, common.RespPieceData+" "+strconv.Itoa(len(data))); err != nil {
		return
	}
	if _, err := conn.Write(data); err != nil {
		glog.Warningf("send piece %d of %s: %v", index, filename, err)
		return
	}

	glog.V(1).Infof("served piece %d of %s (%d bytes)", index, filename, len(data))
	if s.store != nil {
		s.store.IncrServeCount(filename)
	}
}

// readPiece locates the file through the candidate paths and returns
// the piece's bytes, or false for any out-of-range index or I/O fault.
func (s *PieceServer) readPiece(filename string, index int) ([]byte, bool) {
	if index < 0 {
		return nil, false
	}

	var file afero.File
	for _, path := range pieceSearchPaths(filename) {
		f, err := s.fs.Open(path)
		if err == nil {
			file = f
			break
		}
	}
	if file == nil {
		return nil, false
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, false
	}

	offset := int64(index) * common.PieceSize
	if offset >= info.Size() {
		return nil, false
	}

	n := info.Size() - offset
	if n > common.PieceSize {
		n = common.PieceSize
	}

	buf := make([]byte, n)
	if _, err := file.ReadAt(buf, offset); err != nil {
		return nil, false
	}
	return buf, true
}
