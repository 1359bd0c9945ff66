package main

import (
	"bytes"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// patternBytes builds deterministic content that differs from piece to
// piece so piece ordering mistakes show up as a mismatch.
func patternBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i>>9 + i>>19)
	}
	return data
}

func peerAt(t *testing.T, addr string) PeerInfo {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return PeerInfo{IP: host, Port: port, UserID: "seeder"}
}

func waitForDownload(t *testing.T, m *Manager, filename string) DownloadInfo {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if info, ok := m.Get(filename); ok && (info.Complete || info.Failed) {
			return info
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("download did not finish in time")
	return DownloadInfo{}
}

// TestDownloadRoundTrip uploads nothing and verifies the full fetch
// path: probe, sequential pieces over real TCP, piece files, assembly,
// cleanup. The reassembled artifact must equal the source bytes.
func TestDownloadRoundTrip(t *testing.T) {
	source := patternBytes(1200000) // 3 pieces: 524288 + 524288 + 151424

	serverFs := afero.NewMemMapFs()
	if err := afero.WriteFile(serverFs, "artifact.bin", source, 0644); err != nil {
		t.Fatal(err)
	}
	addr := startPieceServer(t, serverFs)

	clientFs := afero.NewMemMapFs()
	m := NewManager(clientFs, nil)
	if _, err := m.Start("artifact.bin", "downloads", []PeerInfo{peerAt(t, addr)}); err != nil {
		t.Fatal(err)
	}

	info := waitForDownload(t, m, "artifact.bin")
	if !info.Complete {
		t.Fatal("download did not complete")
	}
	if info.DownloadedBytes != int64(len(source)) || info.TotalBytes != int64(len(source)) {
		t.Errorf("final byte accounting: %d/%d", info.DownloadedBytes, info.TotalBytes)
	}

	got, err := afero.ReadFile(clientFs, "downloads/artifact.bin")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, source) {
		t.Fatal("reassembled file differs from source")
	}

	// Piece files are deleted after successful assembly.
	for i := 0; i < 3; i++ {
		if _, err := clientFs.Stat(pieceFile("downloads", "artifact.bin", i)); err == nil {
			t.Errorf("piece file %d still on disk", i)
		}
	}
}

// TestDownloadRoundRobinAcrossPeers runs two serving endpoints over the
// same content; the orchestrator alternates between them and the result
// must still be byte-identical.
func TestDownloadRoundRobinAcrossPeers(t *testing.T) {
	source := patternBytes(3*524288 + 1000) // 4 pieces

	serverFs := afero.NewMemMapFs()
	if err := afero.WriteFile(serverFs, "artifact.bin", source, 0644); err != nil {
		t.Fatal(err)
	}
	addrA := startPieceServer(t, serverFs)
	addrB := startPieceServer(t, serverFs)

	clientFs := afero.NewMemMapFs()
	m := NewManager(clientFs, nil)
	peers := []PeerInfo{peerAt(t, addrA), peerAt(t, addrB)}
	if _, err := m.Start("artifact.bin", "downloads", peers); err != nil {
		t.Fatal(err)
	}

	info := waitForDownload(t, m, "artifact.bin")
	if !info.Complete {
		t.Fatal("download did not complete")
	}
	got, err := afero.ReadFile(clientFs, "downloads/artifact.bin")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, source) {
		t.Fatal("reassembled file differs from source")
	}
}

// TestDownloadFailsWithoutReachablePeers: the probe discards dead
// peers and an empty survivor set fails the download immediately.
func TestDownloadFailsWithoutReachablePeers(t *testing.T) {
	// Grab a port and release it so the connect is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := peerAt(t, ln.Addr().String())
	ln.Close()

	m := NewManager(afero.NewMemMapFs(), nil)
	if _, err := m.Start("ghost.bin", "downloads", []PeerInfo{dead}); err != nil {
		t.Fatal(err)
	}

	info := waitForDownload(t, m, "ghost.bin")
	if !info.Failed || info.Complete {
		t.Errorf("want failed download, got %+v", info)
	}
}

// TestDownloadFailsWhenFileUnknown: every piece fetch returns
// PIECE_NOT_FOUND, so three consecutive failures with zero successes
// fail the download.
func TestDownloadFailsWhenFileUnknown(t *testing.T) {
	addr := startPieceServer(t, afero.NewMemMapFs())

	m := NewManager(afero.NewMemMapFs(), nil)
	if _, err := m.Start("ghost.bin", "downloads", []PeerInfo{peerAt(t, addr)}); err != nil {
		t.Fatal(err)
	}

	info := waitForDownload(t, m, "ghost.bin")
	if !info.Failed {
		t.Errorf("want failed download, got %+v", info)
	}
}

func TestDownloadRejectsDuplicateStart(t *testing.T) {
	m := NewManager(afero.NewMemMapFs(), nil)

	// An in-flight record blocks a second Start for the same file.
	m.mu.Lock()
	m.downloads["artifact.bin"] = &DownloadInfo{ID: "x", Filename: "artifact.bin"}
	m.mu.Unlock()

	if _, err := m.Start("artifact.bin", "downloads", nil); err == nil {
		t.Error("second Start for the same file should be rejected")
	}

	// A finished record does not block a restart.
	m.mu.Lock()
	m.downloads["artifact.bin"].Complete = true
	m.mu.Unlock()
	if _, err := m.Start("artifact.bin", "downloads", nil); err != nil {
		t.Errorf("restart after completion rejected: %v", err)
	}
}

func TestFetchPieceAgainstLiveServer(t *testing.T) {
	source := patternBytes(700000) // second piece is short
	serverFs := afero.NewMemMapFs()
	if err := afero.WriteFile(serverFs, "artifact.bin", source, 0644); err != nil {
		t.Fatal(err)
	}
	addr := startPieceServer(t, serverFs)
	peer := peerAt(t, addr)

	data, err := fetchPiece(peer, "artifact.bin", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, source[524288:]) {
		t.Error("short second piece mismatch")
	}

	if _, err := fetchPiece(peer, "artifact.bin", 2); err == nil {
		t.Error("expected error for past-EOF piece")
	}
}
