package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/afero"

	"peershare/config"
)

const usage = `Usage: client [flags] <command> [args]

Commands:
  create_user <user> <password>
  login <user> <password>
  logout
  create_group <group>
  join_group <group>
  leave_group <group>
  list_groups
  list_requests <group>
  accept_request <group> <user>
  list_files <group>
  upload_file <path> <group>
  download_file <group> <filename> [dest]
  show_downloads
  cancel_download <filename>
  history
  daemon
`

func main() {
	flag.Parse()
	defer glog.Flush()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	cmd, rest := args[0], args[1:]

	cfg, err := config.LoadPeer("peershare.yml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if cmd == "daemon" {
		runDaemon(cfg)
		return
	}

	trackers, err := config.LoadTrackerList(cfg.TrackerFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	client := NewClient(NewTrackerClient(trackers), afero.NewOsFs())

	session, err := LoadSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := dispatch(cmd, rest, cfg, client, session); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(cmd string, args []string, cfg *config.Peer, client *Client, session *Session) error {
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("wrong arguments for %s\n%s", cmd, usage)
		}
		return nil
	}
	requireLogin := func() error {
		if !session.LoggedIn() {
			return fmt.Errorf("please login first")
		}
		return nil
	}

	switch cmd {
	case "create_user":
		if err := need(2); err != nil {
			return err
		}
		return printReply(client.CreateUser(args[0], args[1]))

	case "login":
		if err := need(2); err != nil {
			return err
		}
		return login(args[0], args[1], cfg, client, session)

	case "logout":
		if session.LoggedIn() {
			if reply, err := client.Logout(session.UserID); err == nil {
				fmt.Println(reply)
			}
		}
		return ClearSession()

	case "create_group":
		if err := need(1); err != nil {
			return err
		}
		if err := requireLogin(); err != nil {
			return err
		}
		return printReply(client.CreateGroup(session.UserID, args[0]))

	case "join_group":
		if err := need(1); err != nil {
			return err
		}
		if err := requireLogin(); err != nil {
			return err
		}
		return printReply(client.JoinGroup(session.UserID, args[0]))

	case "leave_group":
		if err := need(1); err != nil {
			return err
		}
		if err := requireLogin(); err != nil {
			return err
		}
		return printReply(client.LeaveGroup(session.UserID, args[0]))

	case "list_groups":
		return printReply(client.ListGroups())

	case "list_requests":
		if err := need(1); err != nil {
			return err
		}
		if err := requireLogin(); err != nil {
			return err
		}
		return printReply(client.ListRequests(session.UserID, args[0]))

	case "accept_request":
		if err := need(2); err != nil {
			return err
		}
		if err := requireLogin(); err != nil {
			return err
		}
		return printReply(client.AcceptRequest(session.UserID, args[0], args[1]))

	case "list_files":
		if err := need(1); err != nil {
			return err
		}
		if err := requireLogin(); err != nil {
			return err
		}
		return printReply(client.ListFiles(session.UserID, args[0]))

	case "upload_file":
		if err := need(2); err != nil {
			return err
		}
		if err := requireLogin(); err != nil {
			return err
		}
		return printReply(client.UploadFile(session.UserID, args[1], args[0]))

	case "download_file":
		if err := need(2); err != nil {
			return err
		}
		if err := requireLogin(); err != nil {
			return err
		}
		dest := ""
		if len(args) > 2 {
			dest = args[2]
		}
		return startDownloadViaDaemon(session, args[0], args[1], dest)

	case "show_downloads":
		return adminGet(session, "/downloads")

	case "cancel_download":
		if err := need(1); err != nil {
			return err
		}
		return adminDelete(session, "/downloads/"+args[0])

	case "history":
		return adminGet(session, "/history")

	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func printReply(reply string, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

// login authenticates against the tracker with this peer's serving
// endpoint, saves the session, and spawns the background daemon that
// serves pieces and runs downloads.
func login(user, password string, cfg *config.Peer, client *Client, session *Session) error {
	ip, port, err := splitListen(cfg.Listen)
	if err != nil {
		return err
	}

	reply, err := client.Login(user, password, ip, port)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	if IsError(reply) {
		return nil
	}

	session.UserID = user
	session.IP = ip
	session.Port = port
	session.AdminListen = cfg.AdminListen
	if err := session.Save(); err != nil {
		return err
	}

	daemon := exec.Command(os.Args[0], "daemon")
	daemon.Stdout = nil
	daemon.Stderr = nil
	if err := daemon.Start(); err != nil {
		return fmt.Errorf("starting peer daemon: %v", err)
	}
	fmt.Printf("Peer daemon started in background (PID: %d)\n", daemon.Process.Pid)
	return nil
}

// splitListen turns a listen address into the (ip, port) pair sent to
// the tracker. An empty host announces loopback.
func splitListen(listen string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return "", 0, fmt.Errorf("bad listen address %q: %v", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("bad listen port %q", portStr)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port, nil
}

// ── daemon ───────────────────────────────────────────────────────────

// runDaemon hosts the serving endpoint, the download manager, and the
// admin HTTP surface until SIGINT/SIGTERM.
func runDaemon(cfg *config.Peer) {
	session, err := LoadSession()
	if err != nil {
		glog.Exitf("daemon: %v", err)
	}

	trackers, err := config.LoadTrackerList(cfg.TrackerFile)
	if err != nil {
		glog.Exitf("daemon: %v", err)
	}

	fs := afero.NewOsFs()
	client := NewClient(NewTrackerClient(trackers), fs)

	store, err := OpenStore(filepath.Join(cfg.DataDir, "store"))
	if err != nil {
		glog.Exitf("daemon: %v", err)
	}
	defer store.Close()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		glog.Exitf("daemon: listen on %s: %v", cfg.Listen, err)
	}
	pieces := NewPieceServer(fs, ln, store)
	go pieces.Serve()
	glog.Infof("serving pieces on %s", cfg.Listen)

	manager := NewManager(fs, store)
	admin := NewAdminServer(manager, client, store, session.UserID, cfg.DestPath)
	httpSrv := &http.Server{Addr: cfg.AdminListen, Handler: admin.Router()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Errorf("admin server: %v", err)
		}
	}()
	glog.Infof("admin surface on %s", cfg.AdminListen)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	glog.Info("daemon shutting down")
	pieces.Stop()
	httpSrv.Close()
	glog.Flush()
}

// ── admin surface helpers (CLI side) ─────────────────────────────────

func adminBase(session *Session) (string, error) {
	if session.AdminListen == "" {
		return "", fmt.Errorf("no running daemon; login first")
	}
	return "http://" + session.AdminListen, nil
}

var adminHTTP = &http.Client{Timeout: 10 * time.Second}

func startDownloadViaDaemon(session *Session, group, filename, dest string) error {
	base, err := adminBase(session)
	if err != nil {
		return err
	}

	body, _ := json.Marshal(startDownloadRequest{Group: group, Filename: filename, Dest: dest})
	resp, err := adminHTTP.Post(base+"/downloads", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("daemon unreachable: %v", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("download not started: %s", bytes.TrimSpace(payload))
	}
	fmt.Printf("Download started for '%s'\n", filename)
	fmt.Println(string(bytes.TrimSpace(payload)))
	return nil
}

func adminGet(session *Session, path string) error {
	base, err := adminBase(session)
	if err != nil {
		return err
	}
	resp, err := adminHTTP.Get(base + path)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %v", err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	fmt.Println(string(bytes.TrimSpace(payload)))
	return nil
}

func adminDelete(session *Session, path string) error {
	base, err := adminBase(session)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodDelete, base+path, nil)
	if err != nil {
		return err
	}
	resp, err := adminHTTP.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %v", err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	fmt.Println(string(bytes.TrimSpace(payload)))
	return nil
}
