package main

import "sync"

type User struct {
	UserID   string
	Password string
	Online   bool
	IP       string
	Port     int
	Groups   map[string]bool
}

type Group struct {
	GroupID string
	Owner   string
	Members map[string]bool
	Pending map[string]bool

	// SharedFiles maps filename to the ordered list of seeders that
	// announced it. First-announce order, no duplicates.
	SharedFiles map[string][]string
}

// FileEntry is the catalog record for an uploaded file, keyed by the
// whole-file hash. Piece hashes are the short fragments from the
// upload command; nothing verifies them at download time.
type FileEntry struct {
	Filename    string
	FileHash    string
	PieceHashes []string
	FileSize    int64
	Owner       string
	GroupID     string
}

// Registry is the single authority over all catalog state. Every
// command runs under mu for its full duration, so commands serialize.
// The catalog lives only in process memory and is gone when the
// tracker exits.
type Registry struct {
	mu     sync.Mutex
	users  map[string]*User
	groups map[string]*Group
	files  map[string]*FileEntry
}

func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[string]*User),
		groups: make(map[string]*Group),
		files:  make(map[string]*FileEntry),
	}
}
