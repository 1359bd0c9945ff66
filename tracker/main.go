package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/golang/glog"
	"github.com/joho/godotenv"

	"peershare/config"
)

func main() {
	flag.Parse()
	defer glog.Flush()

	_ = godotenv.Load()

	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: tracker [flags] <tracker_info_file> <line_number>")
		fmt.Fprintln(os.Stderr, "Example: tracker tracker_info.txt 1")
		os.Exit(1)
	}

	lineNum, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid line number %q\n", args[1])
		os.Exit(1)
	}

	addrs, err := config.LoadTrackerList(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if lineNum < 1 || lineNum > len(addrs) {
		fmt.Fprintf(os.Stderr, "Error: line number %d out of range (1-%d)\n", lineNum, len(addrs))
		os.Exit(1)
	}
	address := addrs[lineNum-1]

	// The remaining lines are sibling trackers. They are recorded but
	// never contacted; clients fail over on their own.
	var siblings []string
	for i, a := range addrs {
		if i != lineNum-1 {
			siblings = append(siblings, a)
		}
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start tracker on %s: %v\n", address, err)
		os.Exit(1)
	}

	glog.Infof("tracker listening on %s", address)
	glog.Infof("sibling trackers: %v", siblings)
	fmt.Printf("Tracker listening on %s\n", address)

	server := NewServer(NewRegistry(), ln)
	done := make(chan struct{})
	go func() {
		server.Serve()
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	glog.Info("shutting down")
	server.Stop()
	<-done
	fmt.Println("Tracker stopped.")
}
