package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/golang/glog"

	"peershare/common"
)

// Execute runs one command line against the catalog and returns the
// reply (without its trailing newline). The registry mutex is held for
// the whole handler body; there is no socket I/O under it.
func (r *Registry) Execute(line string) string {
	tokens := common.Fields(line)
	if len(tokens) == 0 {
		return "ERROR: Empty command"
	}

	req, errReply := parseRequest(tokens)
	if errReply != "" {
		return errReply
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch req.verb {
	case verbCreateUser:
		return r.createUser(req)
	case verbLogin:
		return r.login(req)
	case verbLogout:
		return r.logout(req)
	case verbCreateGroup:
		return r.createGroup(req)
	case verbJoinGroup:
		return r.joinGroup(req)
	case verbLeaveGroup:
		return r.leaveGroup(req)
	case verbListGroups:
		return r.listGroups()
	case verbListRequests:
		return r.listRequests(req)
	case verbAcceptRequest:
		return r.acceptRequest(req)
	case verbListFiles:
		return r.listFiles(req)
	case verbUploadFile:
		return r.uploadFile(req)
	case verbDownloadFile:
		return r.downloadFile(req)
	}
	return "ERROR: Unknown command"
}

// online returns the user when it exists and has an active session.
func (r *Registry) online(userID string) *User {
	u, ok := r.users[userID]
	if !ok || !u.Online {
		return nil
	}
	return u
}

func (r *Registry) createUser(req *request) string {
	if _, exists := r.users[req.user]; exists {
		return "ERROR: User already exists"
	}
	r.users[req.user] = &User{
		UserID:   req.user,
		Password: req.password,
		Groups:   make(map[string]bool),
	}
	glog.Infof("user created: %s", req.user)
	return "SUCCESS: User created"
}

func (r *Registry) login(req *request) string {
	u, ok := r.users[req.user]
	if !ok {
		return "ERROR: User not found"
	}
	if u.Password != req.password {
		return "ERROR: Invalid password"
	}
	u.Online = true
	u.IP = req.ip
	u.Port = req.port
	glog.Infof("user %s logged in at %s:%d", req.user, req.ip, req.port)
	return "SUCCESS: Login successful"
}

// logout is idempotent: an unknown or already-offline user still gets
// a success reply.
func (r *Registry) logout(req *request) string {
	if u, ok := r.users[req.user]; ok {
		u.Online = false
		glog.Infof("user logged out: %s", req.user)
	}
	return "SUCCESS: Logged out"
}

func (r *Registry) createGroup(req *request) string {
	u := r.online(req.user)
	if u == nil {
		return "ERROR: User not logged in"
	}
	if _, exists := r.groups[req.group]; exists {
		return "ERROR: Group already exists"
	}
	r.groups[req.group] = &Group{
		GroupID:     req.group,
		Owner:       req.user,
		Members:     map[string]bool{req.user: true},
		Pending:     make(map[string]bool),
		SharedFiles: make(map[string][]string),
	}
	u.Groups[req.group] = true
	glog.Infof("group %s created by %s", req.group, req.user)
	return "SUCCESS: Group created"
}

func (r *Registry) joinGroup(req *request) string {
	if r.online(req.user) == nil {
		return "ERROR: User not logged in"
	}
	g, ok := r.groups[req.group]
	if !ok {
		return "ERROR: Group not found"
	}
	if g.Members[req.user] {
		return "ERROR: Already a member"
	}
	g.Pending[req.user] = true
	return "SUCCESS: Join request sent"
}

func (r *Registry) leaveGroup(req *request) string {
	u := r.online(req.user)
	if u == nil {
		return "ERROR: User not logged in"
	}
	g, ok := r.groups[req.group]
	if !ok {
		return "ERROR: Group not found"
	}
	if !g.Members[req.user] {
		return "ERROR: Not a member"
	}

	delete(g.Members, req.user)
	delete(u.Groups, req.group)

	// Departing owner hands the group to the lexicographically
	// smallest remaining member.
	if g.Owner == req.user && len(g.Members) > 0 {
		g.Owner = smallestMember(g.Members)
		glog.Infof("group %s ownership transferred to %s", g.GroupID, g.Owner)
	}
	return "SUCCESS: Left group"
}

func smallestMember(members map[string]bool) string {
	var ids []string
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[0]
}

func (r *Registry) listGroups() string {
	if len(r.groups) == 0 {
		return "No groups available"
	}
	ids := make([]string, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte('\n')
		}
		g := r.groups[id]
		fmt.Fprintf(&b, "%s (Owner: %s, Members: %d)", id, g.Owner, len(g.Members))
	}
	return b.String()
}

func (r *Registry) listRequests(req *request) string {
	if r.online(req.user) == nil {
		return "ERROR: User not logged in"
	}
	g, ok := r.groups[req.group]
	if !ok {
		return "ERROR: Group not found"
	}
	if g.Owner != req.user {
		return "ERROR: Not group owner"
	}
	if len(g.Pending) == 0 {
		return "No pending requests"
	}
	ids := make([]string, 0, len(g.Pending))
	for id := range g.Pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, "\n")
}

func (r *Registry) acceptRequest(req *request) string {
	if r.online(req.user) == nil {
		return "ERROR: Owner not logged in"
	}
	g, ok := r.groups[req.group]
	if !ok {
		return "ERROR: Group not found"
	}
	if g.Owner != req.user {
		return "ERROR: Not group owner"
	}
	if !g.Pending[req.target] {
		return "ERROR: No pending request from user"
	}
	delete(g.Pending, req.target)
	g.Members[req.target] = true
	if member, ok := r.users[req.target]; ok {
		member.Groups[req.group] = true
	}
	glog.Infof("user %s joined group %s", req.target, req.group)
	return "SUCCESS: Request accepted"
}

func (r *Registry) listFiles(req *request) string {
	if r.online(req.user) == nil {
		return "ERROR: User not logged in"
	}
	g, ok := r.groups[req.group]
	if !ok {
		return "ERROR: Group not found"
	}
	if !g.Members[req.user] {
		return "ERROR: Not a group member"
	}
	if len(g.SharedFiles) == 0 {
		return "No files shared in this group"
	}

	names := make([]string, 0, len(g.SharedFiles))
	for name := range g.SharedFiles {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s (Shared by: %s)", name, strings.Join(g.SharedFiles[name], ", "))
	}
	return b.String()
}

func (r *Registry) uploadFile(req *request) string {
	if r.online(req.user) == nil {
		return "ERROR: User not logged in"
	}
	g, ok := r.groups[req.group]
	if !ok {
		return "ERROR: Group not found"
	}
	if !g.Members[req.user] {
		return "ERROR: Not a group member"
	}

	seeders, announced := g.SharedFiles[req.filename]
	if !announced {
		// First upload of this (group, filename) pair creates the
		// catalog entry. Re-announces only extend the seeder list.
		r.files[req.fileHash] = &FileEntry{
			Filename:    req.filename,
			FileHash:    req.fileHash,
			PieceHashes: splitPieceBlob(req.pieceBlob),
			FileSize:    req.size,
			Owner:       req.user,
			GroupID:     req.group,
		}
	}

	if !containsSeeder(seeders, req.user) {
		g.SharedFiles[req.filename] = append(seeders, req.user)
	}

	glog.Infof("file %s uploaded to group %s by %s (%d bytes, ~%d pieces)",
		req.filename, req.group, req.user, req.size, estimatePieces(req.size))
	return "SUCCESS: File uploaded"
}

func containsSeeder(seeders []string, userID string) bool {
	for _, s := range seeders {
		if s == userID {
			return true
		}
	}
	return false
}

func (r *Registry) downloadFile(req *request) string {
	if r.online(req.user) == nil {
		return "ERROR: User not logged in"
	}
	g, ok := r.groups[req.group]
	if !ok {
		return "ERROR: Group not found"
	}
	if !g.Members[req.user] {
		return "ERROR: Not a group member"
	}
	seeders, ok := g.SharedFiles[req.filename]
	if !ok {
		return "ERROR: File not found in group"
	}

	// Only seeders with a live session qualify; their endpoint is
	// meaningless otherwise.
	var parts []string
	for _, id := range seeders {
		if u := r.online(id); u != nil {
			parts = append(parts, fmt.Sprintf("%s %d %s", u.IP, u.Port, id))
		}
	}
	if len(parts) == 0 {
		return "ERROR: No online peers available"
	}
	return "PEERS: " + strings.Join(parts, " ")
}
