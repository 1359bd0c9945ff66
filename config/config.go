// Package config loads the tracker-info file shared by every process
// and the peer's own settings.
package config

import (
	"bufio"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const DefaultTrackerFile = "tracker_info.txt"

// Peer holds the client/daemon settings. Zero values fall back to the
// defaults below; environment variables win over the YAML file.
type Peer struct {
	Listen      string `yaml:"listen"`
	AdminListen string `yaml:"admin_listen"`
	DestPath    string `yaml:"dest_path"`
	DataDir     string `yaml:"data_dir"`
	TrackerFile string `yaml:"tracker_file"`
}

// LoadTrackerList reads the tracker-info file: one ip:port per
// non-empty line, a line starting with '#' is a comment (a '#' later
// in a line is kept as part of the entry). Every entry is a failover
// candidate for the client; the tracker binds to one line and keeps
// the rest as siblings.
func LoadTrackerList(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open tracker file %s", path)
	}
	defer file.Close()

	var addrs []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addrs = append(addrs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read tracker file")
	}
	return addrs, nil
}

// LoadPeer builds the peer configuration from an optional YAML file,
// then a .env file if present, then the process environment.
func LoadPeer(path string) (*Peer, error) {
	cfg := &Peer{
		Listen:      ":7001",
		AdminListen: "127.0.0.1:7081",
		DestPath:    ".",
		DataDir:     ".peershare",
		TrackerFile: DefaultTrackerFile,
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	// Ignore a missing .env; it only seeds the environment.
	_ = godotenv.Load()

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Peer) {
	if v := os.Getenv("PEERSHARE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("PEERSHARE_ADMIN_LISTEN"); v != "" {
		cfg.AdminListen = v
	}
	if v := os.Getenv("PEERSHARE_DEST"); v != "" {
		cfg.DestPath = v
	}
	if v := os.Getenv("PEERSHARE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PEERSHARE_TRACKERS"); v != "" {
		cfg.TrackerFile = v
	}
}
