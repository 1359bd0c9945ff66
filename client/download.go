package main

import (
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"peershare/common"
)

const (
	probeTimeout = 5 * time.Second
	pieceTimeout = 10 * time.Second

	// Three failed pieces in a row after the first success read as
	// end-of-file; the wire protocol has no explicit EOF signal.
	maxConsecutiveFailures = 3

	// Hard cap on scheduled pieces to bound work per download.
	maxPieces = 1000
)

// DownloadInfo is the progress record for one active download.
// DownloadedBytes and TotalBytes are estimates until assembly pins the
// real size; TotalBytes only ever grows during the fetch loop.
type DownloadInfo struct {
	ID              string `json:"id"`
	Filename        string `json:"filename"`
	DestPath        string `json:"dest_path"`
	DownloadedBytes int64  `json:"downloaded_bytes"`
	TotalBytes      int64  `json:"total_bytes"`
	Complete        bool   `json:"complete"`
	Failed          bool   `json:"failed"`

	cancelled bool
}

// Manager owns every download worker in the daemon. Workers share
// nothing but the downloads map under mu; piece files on disk belong
// to exactly one worker each.
type Manager struct {
	fs    afero.Fs
	store *Store // optional history sink

	mu        sync.Mutex
	downloads map[string]*DownloadInfo
}

func NewManager(fs afero.Fs, store *Store) *Manager {
	return &Manager{fs: fs, store: store, downloads: make(map[string]*DownloadInfo)}
}

// Start registers the download and runs it on its own goroutine so the
// caller (CLI or admin handler) never blocks on piece traffic.
func (m *Manager) Start(filename, dest string, peers []PeerInfo) (string, error) {
	m.mu.Lock()
	if info, ok := m.downloads[filename]; ok && !info.Complete && !info.Failed {
		m.mu.Unlock()
		return "", errors.Errorf("download already in progress: %s", filename)
	}
	info := &DownloadInfo{
		ID:       uuid.NewString(),
		Filename: filename,
		DestPath: dest,
	}
	m.downloads[filename] = info
	m.mu.Unlock()

	go m.run(filename, dest, peers)
	return info.ID, nil
}

// Cancel flips the cooperative cancel flag; the worker observes it
// between pieces.
func (m *Manager) Cancel(filename string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.downloads[filename]
	if !ok || info.Complete || info.Failed {
		return false
	}
	info.cancelled = true
	return true
}

// Get returns a copy of one download's progress record.
func (m *Manager) Get(filename string) (DownloadInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.downloads[filename]
	if !ok {
		return DownloadInfo{}, false
	}
	return *info, true
}

// Snapshot returns copies of every download record, stable order.
func (m *Manager) Snapshot() []DownloadInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DownloadInfo, 0, len(m.downloads))
	for _, info := range m.downloads {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

// run is the download worker: probe, fetch sequentially with
// round-robin peer choice, persist pieces, then reassemble.
func (m *Manager) run(filename, dest string, peers []PeerInfo) {
	start := time.Now()

	survivors := probePeers(peers)
	if len(survivors) == 0 {
		glog.Errorf("download %s: no reachable peers", filename)
		m.fail(filename)
		return
	}
	glog.Infof("download %s: %d of %d peers reachable", filename, len(survivors), len(peers))

	var successes []int
	consecutive := 0
	for index := 0; index < maxPieces && consecutive < maxConsecutiveFailures; index++ {
		if m.isCancelled(filename) {
			glog.Infof("download %s: cancelled at piece %d", filename, index)
			m.cleanupPieces(filename, dest, successes)
			m.fail(filename)
			return
		}

		peer := survivors[index%len(survivors)]
		data, err := fetchPiece(peer, filename, index)
		if err != nil {
			glog.V(1).Infof("download %s: piece %d from %s: %v", filename, index, peer.UserID, err)
			consecutive++
			continue
		}

		piecePath := pieceFile(dest, filename, index)
		if err := afero.WriteFile(m.fs, piecePath, data, 0644); err != nil {
			glog.Errorf("download %s: write %s: %v", filename, piecePath, err)
			consecutive++
			continue
		}

		successes = append(successes, index)
		consecutive = 0
		m.progress(filename, len(successes))
	}

	if len(successes) == 0 {
		glog.Errorf("download %s: no pieces downloaded", filename)
		m.fail(filename)
		return
	}

	total, err := m.assemble(filename, dest, successes)
	if err != nil {
		glog.Errorf("download %s: assemble: %v", filename, err)
		m.fail(filename)
		return
	}

	m.mu.Lock()
	if info, ok := m.downloads[filename]; ok {
		info.Complete = true
		info.DownloadedBytes = total
		info.TotalBytes = total
	}
	m.mu.Unlock()

	elapsed := time.Since(start)
	glog.Infof("download %s: complete, %d bytes in %d pieces (%.1fs)",
		filename, total, len(successes), elapsed.Seconds())

	if m.store != nil {
		if err := m.store.RecordDownload(HistoryEntry{
			Filename:   filename,
			Bytes:      total,
			Pieces:     len(successes),
			Duration:   elapsed.Truncate(time.Millisecond).String(),
			FinishedAt: time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			glog.Warningf("record download %s: %v", filename, err)
		}
	}
}

func (m *Manager) fail(filename string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.downloads[filename]; ok {
		info.Failed = true
	}
}

func (m *Manager) isCancelled(filename string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.downloads[filename]
	return ok && info.cancelled
}

// progress credits one full piece and grows the estimated total; the
// true size is only known after assembly.
func (m *Manager) progress(filename string, pieces int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.downloads[filename]
	if !ok {
		return
	}
	info.DownloadedBytes += common.PieceSize
	if estimate := int64(pieces+5) * common.PieceSize; estimate > info.TotalBytes {
		info.TotalBytes = estimate
	}
}

// probePeers keeps only peers that answer a plain TCP connect. The
// survivor set drives round-robin piece assignment.
func probePeers(peers []PeerInfo) []PeerInfo {
	var survivors []PeerInfo
	for _, peer := range peers {
		conn, err := net.DialTimeout("tcp", peer.Addr(), probeTimeout)
		if err != nil {
			glog.Warningf("peer %s (%s) unreachable: %v", peer.UserID, peer.Addr(), err)
			continue
		}
		conn.Close()
		survivors = append(survivors, peer)
	}
	return survivors
}

// fetchPiece opens a fresh connection, asks for one piece, and reads
// the header plus exactly the advertised payload. The first read may
// carry the header alone, header plus some payload, or everything.
func fetchPiece(peer PeerInfo, filename string, index int) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", peer.Addr(), pieceTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(pieceTimeout))

	if err := common.WriteLine(conn, fmt.Sprintf("GET_PIECE %s %d", filename, index)); err != nil {
		return nil, err
	}

	lr := common.NewLineReader(conn)
	header, err := lr.ReadLine()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	tokens := common.Fields(header)
	if len(tokens) == 0 || tokens[0] != common.RespPieceData {
		return nil, errors.Errorf("peer replied %q", header)
	}
	if len(tokens) < 2 {
		return nil, errors.Errorf("malformed header %q", header)
	}
	size, err := strconv.Atoi(tokens[1])
	if err != nil || size < 0 || size > common.PieceSize {
		return nil, errors.Errorf("bad piece size in header %q", header)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(lr.Reader(), data); err != nil {
		return nil, errors.Wrap(err, "read payload")
	}
	return data, nil
}

func pieceFile(dest, filename string, index int) string {
	return filepath.Join(dest, fmt.Sprintf("%s.piece%d", filename, index))
}

// assemble concatenates the successful pieces in ascending index order
// into the final artifact and removes the piece files.
func (m *Manager) assemble(filename, dest string, successes []int) (int64, error) {
	sort.Ints(successes)

	finalPath := filepath.Join(dest, filename)
	out, err := m.fs.Create(finalPath)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", finalPath)
	}
	defer out.Close()

	var total int64
	for _, index := range successes {
		path := pieceFile(dest, filename, index)
		piece, err := m.fs.Open(path)
		if err != nil {
			return 0, errors.Wrapf(err, "open %s", path)
		}
		n, err := io.Copy(out, piece)
		piece.Close()
		if err != nil {
			return 0, errors.Wrapf(err, "copy %s", path)
		}
		total += n
	}

	m.cleanupPieces(filename, dest, successes)
	return total, nil
}

func (m *Manager) cleanupPieces(filename, dest string, successes []int) {
	for _, index := range successes {
		if err := m.fs.Remove(pieceFile(dest, filename, index)); err != nil {
			glog.Warningf("remove piece %d of %s: %v", index, filename, err)
		}
	}
}
