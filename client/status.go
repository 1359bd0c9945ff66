package main

import (
	"encoding/json"
	"net/http"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
)

// AdminServer is the daemon's loopback HTTP surface. The CLI talks to
// it for everything that must run inside the daemon: starting,
// inspecting, and cancelling downloads, and reading history.
type AdminServer struct {
	manager *Manager
	client  *Client
	store   *Store
	userID  string
	dest    string
}

func NewAdminServer(manager *Manager, client *Client, store *Store, userID, dest string) *AdminServer {
	return &AdminServer{manager: manager, client: client, store: store, userID: userID, dest: dest}
}

func (a *AdminServer) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.health).Methods(http.MethodGet)
	r.HandleFunc("/downloads", a.listDownloads).Methods(http.MethodGet)
	r.HandleFunc("/downloads", a.startDownload).Methods(http.MethodPost)
	r.HandleFunc("/downloads/{filename}", a.getDownload).Methods(http.MethodGet)
	r.HandleFunc("/downloads/{filename}", a.cancelDownload).Methods(http.MethodDelete)
	r.HandleFunc("/history", a.history).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("admin: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *AdminServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *AdminServer) listDownloads(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Snapshot())
}

func (a *AdminServer) getDownload(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	info, ok := a.manager.Get(filename)
	if !ok {
		writeError(w, http.StatusNotFound, "no such download")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type startDownloadRequest struct {
	Group    string `json:"group"`
	Filename string `json:"filename"`
	Dest     string `json:"dest"`
}

func (a *AdminServer) startDownload(w http.ResponseWriter, r *http.Request) {
	var req startDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	if req.Group == "" || req.Filename == "" {
		writeError(w, http.StatusBadRequest, "group and filename are required")
		return
	}
	dest := req.Dest
	if dest == "" {
		dest = a.dest
	}

	peers, err := a.client.RequestPeers(a.userID, req.Group, req.Filename)
	if err != nil {
		if IsError(err.Error()) {
			writeError(w, http.StatusBadRequest, err.Error())
		} else {
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	id, err := a.manager.Start(req.Filename, dest, peers)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (a *AdminServer) cancelDownload(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	if !a.manager.Cancel(filename) {
		writeError(w, http.StatusNotFound, "no active download")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (a *AdminServer) history(w http.ResponseWriter, _ *http.Request) {
	if a.store == nil {
		writeJSON(w, http.StatusOK, []HistoryEntry{})
		return
	}
	entries, err := a.store.History()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
