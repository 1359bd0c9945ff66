package main

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func seedUser(t *testing.T, r *Registry, user, pass, ip string, port int) {
	t.Helper()
	if got := r.Execute(fmt.Sprintf("CREATE_USER %s %s", user, pass)); got != "SUCCESS: User created" {
		t.Fatalf("CREATE_USER %s: %q", user, got)
	}
	if got := r.Execute(fmt.Sprintf("LOGIN %s %s %s %d", user, pass, ip, port)); got != "SUCCESS: Login successful" {
		t.Fatalf("LOGIN %s: %q", user, got)
	}
}

// joinAndAccept moves user into group through the pending-request flow.
func joinAndAccept(t *testing.T, r *Registry, owner, group, user string) {
	t.Helper()
	if got := r.Execute(fmt.Sprintf("JOIN_GROUP %s %s", user, group)); got != "SUCCESS: Join request sent" {
		t.Fatalf("JOIN_GROUP: %q", got)
	}
	if got := r.Execute(fmt.Sprintf("ACCEPT_REQUEST %s %s %s", owner, group, user)); got != "SUCCESS: Request accepted" {
		t.Fatalf("ACCEPT_REQUEST: %q", got)
	}
}

func TestRegistrationAndLogin(t *testing.T) {
	r := NewRegistry()

	if got := r.Execute("CREATE_USER alice pw"); got != "SUCCESS: User created" {
		t.Errorf("create: %q", got)
	}
	if got := r.Execute("CREATE_USER alice other"); got != "ERROR: User already exists" {
		t.Errorf("duplicate create: %q", got)
	}
	if got := r.Execute("LOGIN alice pw 10.0.0.1 7001"); got != "SUCCESS: Login successful" {
		t.Errorf("login: %q", got)
	}
	if got := r.Execute("LOGIN alice wrong 10.0.0.1 7001"); got != "ERROR: Invalid password" {
		t.Errorf("bad password: %q", got)
	}
	if got := r.Execute("LOGIN ghost pw 10.0.0.1 7001"); got != "ERROR: User not found" {
		t.Errorf("unknown user: %q", got)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	r := NewRegistry()
	seedUser(t, r, "alice", "pw", "10.0.0.1", 7001)

	if got := r.Execute("LOGOUT alice"); got != "SUCCESS: Logged out" {
		t.Errorf("logout: %q", got)
	}
	if got := r.Execute("LOGOUT alice"); got != "SUCCESS: Logged out" {
		t.Errorf("repeated logout: %q", got)
	}
	if got := r.Execute("LOGOUT nobody"); got != "SUCCESS: Logged out" {
		t.Errorf("logout of unknown user: %q", got)
	}
	if r.users["alice"].Online {
		t.Error("alice still online after logout")
	}
}

func TestGroupApprovalFlow(t *testing.T) {
	r := NewRegistry()
	seedUser(t, r, "alice", "pw", "10.0.0.1", 7001)
	seedUser(t, r, "bob", "pw", "10.0.0.2", 7002)

	if got := r.Execute("CREATE_GROUP alice g1"); got != "SUCCESS: Group created" {
		t.Fatalf("create group: %q", got)
	}
	if got := r.Execute("JOIN_GROUP bob g1"); got != "SUCCESS: Join request sent" {
		t.Errorf("join: %q", got)
	}
	if got := r.Execute("LIST_REQUESTS alice g1"); got != "bob" {
		t.Errorf("pending list: %q", got)
	}
	if got := r.Execute("LIST_REQUESTS bob g1"); got != "ERROR: Not group owner" {
		t.Errorf("non-owner list: %q", got)
	}
	if got := r.Execute("ACCEPT_REQUEST alice g1 bob"); got != "SUCCESS: Request accepted" {
		t.Errorf("accept: %q", got)
	}
	if got := r.Execute("LIST_REQUESTS alice g1"); got != "No pending requests" {
		t.Errorf("after accept: %q", got)
	}
	if got := r.Execute("JOIN_GROUP bob g1"); got != "ERROR: Already a member" {
		t.Errorf("member re-join: %q", got)
	}

	// Invariant: pending and members stay disjoint, owner is a member.
	g := r.groups["g1"]
	if !g.Members[g.Owner] {
		t.Error("owner not a member")
	}
	for id := range g.Pending {
		if g.Members[id] {
			t.Errorf("user %s both pending and member", id)
		}
	}
}

func TestOwnershipTransferOnLeave(t *testing.T) {
	r := NewRegistry()
	seedUser(t, r, "alice", "pw", "10.0.0.1", 7001)
	seedUser(t, r, "bob", "pw", "10.0.0.2", 7002)
	seedUser(t, r, "carol", "pw", "10.0.0.3", 7003)
	r.Execute("CREATE_GROUP alice g1")
	joinAndAccept(t, r, "alice", "g1", "bob")
	joinAndAccept(t, r, "alice", "g1", "carol")

	if got := r.Execute("LEAVE_GROUP alice g1"); got != "SUCCESS: Left group" {
		t.Fatalf("leave: %q", got)
	}

	// Deterministic tie-break: smallest remaining user ID.
	if got := r.Execute("LIST_GROUPS"); got != "g1 (Owner: bob, Members: 2)" {
		t.Errorf("after transfer: %q", got)
	}
	if got := r.Execute("LEAVE_GROUP alice g1"); got != "ERROR: Not a member" {
		t.Errorf("double leave: %q", got)
	}
}

func TestListGroupsEmpty(t *testing.T) {
	r := NewRegistry()
	if got := r.Execute("LIST_GROUPS"); got != "No groups available" {
		t.Errorf("empty catalog: %q", got)
	}
}

func uploadCmd(user, group, filename string, size int64) string {
	blob := strings.Repeat("0123456789abcdef0123", 3)
	return fmt.Sprintf("UPLOAD_FILE %s %s %s %s %s %d",
		user, group, filename, strings.Repeat("ab", 20), blob, size)
}

func TestUploadAndCatalog(t *testing.T) {
	r := NewRegistry()
	seedUser(t, r, "alice", "pw", "10.0.0.1", 7001)
	seedUser(t, r, "bob", "pw", "10.0.0.2", 7002)
	r.Execute("CREATE_GROUP alice g1")
	joinAndAccept(t, r, "alice", "g1", "bob")

	if got := r.Execute(uploadCmd("alice", "g1", "report.pdf", 1200000)); got != "SUCCESS: File uploaded" {
		t.Fatalf("upload: %q", got)
	}
	if got := r.Execute("LIST_FILES bob g1"); got != "report.pdf (Shared by: alice)" {
		t.Errorf("list files: %q", got)
	}
	if got := r.Execute("DOWNLOAD_FILE bob g1 report.pdf"); got != "PEERS: 10.0.0.1 7001 alice" {
		t.Errorf("peer list: %q", got)
	}

	// Second seeder appears after the first, once.
	if got := r.Execute(uploadCmd("bob", "g1", "report.pdf", 1200000)); got != "SUCCESS: File uploaded" {
		t.Fatalf("re-announce: %q", got)
	}
	r.Execute(uploadCmd("bob", "g1", "report.pdf", 1200000))
	if got := r.Execute("LIST_FILES alice g1"); got != "report.pdf (Shared by: alice, bob)" {
		t.Errorf("seeder list after re-announce: %q", got)
	}
}

func TestDownloadFiltersOfflineSeeders(t *testing.T) {
	r := NewRegistry()
	seedUser(t, r, "alice", "pw", "10.0.0.1", 7001)
	seedUser(t, r, "bob", "pw", "10.0.0.2", 7002)
	r.Execute("CREATE_GROUP alice g1")
	joinAndAccept(t, r, "alice", "g1", "bob")
	r.Execute(uploadCmd("alice", "g1", "report.pdf", 1200000))

	r.Execute("LOGOUT alice")
	// bob stays online but never uploaded; alice is the only seeder.
	if got := r.Execute("DOWNLOAD_FILE bob g1 report.pdf"); got != "ERROR: No online peers available" {
		t.Errorf("offline seeder: %q", got)
	}

	r.Execute("LOGIN alice pw 10.0.0.9 7009")
	if got := r.Execute("DOWNLOAD_FILE bob g1 report.pdf"); got != "PEERS: 10.0.0.9 7009 alice" {
		t.Errorf("endpoint after re-login: %q", got)
	}
}

func TestDownloadAuthorization(t *testing.T) {
	r := NewRegistry()
	seedUser(t, r, "alice", "pw", "10.0.0.1", 7001)
	seedUser(t, r, "mallory", "pw", "10.0.0.6", 7006)
	r.Execute("CREATE_GROUP alice g1")
	r.Execute(uploadCmd("alice", "g1", "report.pdf", 1200000))

	if got := r.Execute("DOWNLOAD_FILE mallory g1 report.pdf"); got != "ERROR: Not a group member" {
		t.Errorf("non-member download: %q", got)
	}
	if got := r.Execute("DOWNLOAD_FILE alice g1 missing.bin"); got != "ERROR: File not found in group" {
		t.Errorf("missing file: %q", got)
	}
	if got := r.Execute("DOWNLOAD_FILE alice nope report.pdf"); got != "ERROR: Group not found" {
		t.Errorf("missing group: %q", got)
	}
	if got := r.Execute("LIST_FILES mallory g1"); got != "ERROR: Not a group member" {
		t.Errorf("non-member list: %q", got)
	}
}

func TestMalformedCommands(t *testing.T) {
	r := NewRegistry()

	cases := map[string]string{
		"":                       "ERROR: Empty command",
		"   ":                    "ERROR: Empty command",
		"FROBNICATE x":           "ERROR: Unknown command",
		"CREATE_USER alice":      "ERROR: Invalid CREATE_USER command",
		"LOGIN alice pw ip":      "ERROR: Invalid LOGIN command",
		"LOGIN a b 1.2.3.4 oops": "ERROR: Invalid LOGIN command",
		"ACCEPT_REQUEST a g":     "ERROR: Invalid ACCEPT_REQUEST command",
		"UPLOAD_FILE a g f h":    "ERROR: Invalid UPLOAD_FILE command - insufficient parameters",
		"UPLOAD_FILE a g f h blob notanumber": "ERROR: Invalid file size",
	}
	for cmd, want := range cases {
		if got := r.Execute(cmd); got != want {
			t.Errorf("%q: want %q got %q", cmd, want, got)
		}
	}
}

func TestCommandsRequireLogin(t *testing.T) {
	r := NewRegistry()
	r.Execute("CREATE_USER alice pw")

	for _, cmd := range []string{
		"CREATE_GROUP alice g1",
		"JOIN_GROUP alice g1",
		"LEAVE_GROUP alice g1",
		"LIST_REQUESTS alice g1",
		"LIST_FILES alice g1",
		uploadCmd("alice", "g1", "f.bin", 100),
		"DOWNLOAD_FILE alice g1 f.bin",
	} {
		if got := r.Execute(cmd); got != "ERROR: User not logged in" {
			t.Errorf("%q: want login error, got %q", cmd, got)
		}
	}
	if got := r.Execute("ACCEPT_REQUEST alice g1 bob"); got != "ERROR: Owner not logged in" {
		t.Errorf("accept while offline: %q", got)
	}
}

func TestSplitPieceBlob(t *testing.T) {
	frag20 := func(n int) string { return strings.Repeat("0123456789abcdefghij", n) }

	// 20-char fragments whose total is not a multiple of 8: three
	// pieces, 60 chars.
	got := splitPieceBlob(frag20(3))
	want := []string{"0123456789abcdefghij", "0123456789abcdefghij", "0123456789abcdefghij"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("20-char parse: %v", got)
	}

	// A length divisible by 8 is read as 8-char fragments even when it
	// also divides by 20.
	got = splitPieceBlob(frag20(2))
	if len(got) != 5 || got[0] != "01234567" {
		t.Errorf("8-char precedence: %v", got)
	}

	// TRUNCATED sentinel: prefix parsed as 8-char fragments.
	got = splitPieceBlob("aaaaaaaabbbbbbbbTRUNCATED")
	if !reflect.DeepEqual(got, []string{"aaaaaaaa", "bbbbbbbb"}) {
		t.Errorf("truncated parse: %v", got)
	}

	if got := splitPieceBlob(""); len(got) != 0 {
		t.Errorf("empty blob: %v", got)
	}
}
