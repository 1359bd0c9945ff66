package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

const sessionFile = ".peershare_session.json"

// Session carries login state between CLI invocations and the daemon.
// It is a plain JSON file because two processes read it; the badger
// store is daemon-only.
type Session struct {
	UserID      string `json:"user_id"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	AdminListen string `json:"admin_listen"`
}

func LoadSession() (*Session, error) {
	data, err := os.ReadFile(sessionFile)
	if err != nil {
		if os.IsNotExist(err) {
			return &Session{}, nil
		}
		return nil, errors.Wrap(err, "read session")
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "parse session")
	}
	return &s, nil
}

func (s *Session) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(sessionFile, data, 0600), "write session")
}

func ClearSession() error {
	err := os.Remove(sessionFile)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// LoggedIn reports whether a session has a user attached.
func (s *Session) LoggedIn() bool {
	return s.UserID != ""
}
