package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

type PeerInfo struct {
	IP     string
	Port   int
	UserID string
}

func (p PeerInfo) Addr() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// Client drives user-level operations: it builds command lines for the
// tracker and decodes the replies.
type Client struct {
	tracker *TrackerClient
	hasher  *Hasher
	fs      afero.Fs
}

func NewClient(tracker *TrackerClient, fs afero.Fs) *Client {
	return &Client{tracker: tracker, hasher: NewHasher(fs), fs: fs}
}

func (c *Client) CreateUser(user, password string) (string, error) {
	return c.tracker.Send(fmt.Sprintf("CREATE_USER %s %s", user, password))
}

func (c *Client) Login(user, password, ip string, port int) (string, error) {
	return c.tracker.Send(fmt.Sprintf("LOGIN %s %s %s %d", user, password, ip, port))
}

func (c *Client) Logout(user string) (string, error) {
	return c.tracker.Send("LOGOUT " + user)
}

func (c *Client) CreateGroup(user, group string) (string, error) {
	return c.tracker.Send(fmt.Sprintf("CREATE_GROUP %s %s", user, group))
}

func (c *Client) JoinGroup(user, group string) (string, error) {
	return c.tracker.Send(fmt.Sprintf("JOIN_GROUP %s %s", user, group))
}

func (c *Client) LeaveGroup(user, group string) (string, error) {
	return c.tracker.Send(fmt.Sprintf("LEAVE_GROUP %s %s", user, group))
}

func (c *Client) ListGroups() (string, error) {
	return c.tracker.Send("LIST_GROUPS")
}

func (c *Client) ListRequests(user, group string) (string, error) {
	return c.tracker.Send(fmt.Sprintf("LIST_REQUESTS %s %s", user, group))
}

func (c *Client) AcceptRequest(owner, group, user string) (string, error) {
	return c.tracker.Send(fmt.Sprintf("ACCEPT_REQUEST %s %s %s", owner, group, user))
}

func (c *Client) ListFiles(user, group string) (string, error) {
	return c.tracker.Send(fmt.Sprintf("LIST_FILES %s %s", user, group))
}

// UploadFile hashes the file and announces it to the tracker. The file
// itself stays where it is; pieces are served straight from disk.
func (c *Client) UploadFile(user, group, path string) (string, error) {
	info, err := c.fs.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "stat %s", path)
	}
	if info.Size() == 0 {
		return "", errors.Errorf("file is empty: %s", path)
	}

	filename := filepath.Base(path)
	fileHash, err := c.hasher.FileHash(path)
	if err != nil {
		return "", err
	}
	pieceHashes, err := c.hasher.PieceHashes(path)
	if err != nil {
		return "", err
	}

	cmd := fmt.Sprintf("UPLOAD_FILE %s %s %s %s %s %d",
		user, group, filename, fileHash, PieceHashBlob(pieceHashes), info.Size())
	return c.tracker.Send(cmd)
}

// RequestPeers asks the tracker for online seeders of a file.
func (c *Client) RequestPeers(user, group, filename string) ([]PeerInfo, error) {
	reply, err := c.tracker.Send(fmt.Sprintf("DOWNLOAD_FILE %s %s %s", user, group, filename))
	if err != nil {
		return nil, err
	}
	if IsError(reply) {
		return nil, errors.New(reply)
	}
	return ParsePeers(reply)
}

// ParsePeers decodes a `PEERS: ip port user ...` line into triples.
func ParsePeers(reply string) ([]PeerInfo, error) {
	line := reply
	if i := strings.Index(line, "PEERS:"); i >= 0 {
		line = line[i+len("PEERS:"):]
	} else {
		return nil, errors.Errorf("unexpected peer reply: %q", reply)
	}

	tokens := strings.Fields(line)
	if len(tokens)%3 != 0 {
		return nil, errors.Errorf("malformed peer list: %q", reply)
	}

	peers := make([]PeerInfo, 0, len(tokens)/3)
	for i := 0; i+2 < len(tokens); i += 3 {
		port, err := strconv.Atoi(tokens[i+1])
		if err != nil {
			return nil, errors.Wrapf(err, "peer port %q", tokens[i+1])
		}
		peers = append(peers, PeerInfo{IP: tokens[i], Port: port, UserID: tokens[i+2]})
	}
	return peers, nil
}
