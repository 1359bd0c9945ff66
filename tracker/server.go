package main

import (
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"peershare/common"
)

// Server accepts client connections and feeds their command lines to
// the registry. One worker goroutine per connection; replies go back
// in request order on that connection.
type Server struct {
	registry *Registry
	ln       *net.TCPListener
	running  atomic.Bool
}

func NewServer(registry *Registry, ln net.Listener) *Server {
	s := &Server{registry: registry, ln: ln.(*net.TCPListener)}
	s.running.Store(true)
	return s
}

// Serve blocks until Stop. The accept loop wakes on a one-second
// deadline tick to observe the running flag; in-flight workers finish
// on their own when their socket drains.
func (s *Server) Serve() {
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
			glog.Warningf("accept: %v", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Stop() {
	s.running.Store(false)
	s.ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	glog.Infof("client connected: %s", remote)

	lr := common.NewLineReader(conn)
	for {
		line, err := lr.ReadLine()
		if err != nil {
			break
		}
		glog.Infof("command from %s: %s", remote, truncateForLog(line))

		reply := s.registry.Execute(line)
		if err := common.WriteLine(conn, reply); err != nil {
			glog.Warningf("reply to %s: %v", remote, err)
			break
		}
	}
	glog.Infof("client disconnected: %s", remote)
}

// truncateForLog keeps upload commands from flooding the log; their
// piece-hash blob grows with file size.
func truncateForLog(cmd string) string {
	const max = 100
	if len(cmd) <= max {
		return cmd
	}
	return cmd[:max] + "... [" + strconv.Itoa(len(cmd)) + " chars]"
}
