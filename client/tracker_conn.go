package main

import (
	"net"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"peershare/common"
)

const (
	trackerDialTimeout = 1 * time.Second
	trackerIOTimeout   = 5 * time.Second
)

// TrackerClient issues one command per short-lived connection against
// the first reachable tracker. Failover is first-success over the
// static list; a failed tracker is not blacklisted.
type TrackerClient struct {
	addrs []string
}

func NewTrackerClient(addrs []string) *TrackerClient {
	return &TrackerClient{addrs: addrs}
}

// Send writes one command line and returns the tracker's reply with
// its trailing newline trimmed. Multi-line list replies come back as
// one string with embedded newlines.
func (tc *TrackerClient) Send(cmd string) (string, error) {
	for _, addr := range tc.addrs {
		reply, err := tryTracker(addr, cmd)
		if err != nil {
			glog.Warningf("tracker %s: %v", addr, err)
			continue
		}
		return reply, nil
	}
	return "", errors.New("no trackers available")
}

func tryTracker(addr, cmd string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, trackerDialTimeout)
	if err != nil {
		return "", errors.Wrap(err, "dial")
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(trackerIOTimeout))

	if err := common.WriteLine(conn, cmd); err != nil {
		return "", err
	}

	// One read captures the reply: the tracker writes each reply with
	// a single send.
	buf := make([]byte, common.ReadBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		return "", errors.Wrap(err, "read reply")
	}
	return strings.TrimRight(string(buf[:n]), "\n"), nil
}

// IsError reports whether a tracker reply is a failure line.
func IsError(reply string) bool {
	return strings.HasPrefix(reply, "ERROR:")
}
