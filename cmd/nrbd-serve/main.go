package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kbowen/nrbd"
	"github.com/kbowen/nrbd/internal/backend"
	"github.com/kbowen/nrbd/internal/logging"
)

func main() {
	var (
		sizeStr   = flag.String("size", "64M", "Size of the lower device (e.g., 64M, 1G); a smaller -file is grown to this size and a larger one is used only up to it")
		file      = flag.String("file", "", "Path to a file or block device to use as the lower device; empty uses an in-memory backend")
		metaPath  = flag.String("meta", "", "Path to the persisted generation-counter metadata file (required)")
		localAddr = flag.String("local", ":7790", "Local host:port to accept the peer connection on")
		peerAddr  = flag.String("peer", "", "Peer host:port to connect to (required)")
		primary   = flag.Bool("primary", false, "Start in the Primary role")
		protocol  = flag.String("protocol", "C", "Replication protocol: A (async), B (RecvAck), C (WriteAck)")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("invalid size %q: %v", *sizeStr, err)
	}
	if *metaPath == "" {
		log.Fatal("-meta is required")
	}
	if *peerAddr == "" {
		log.Fatal("-peer is required")
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	var lower nrbd.Backend
	if *file != "" {
		fb, err := backend.NewFile(*file, size)
		if err != nil {
			logger.Error("failed to open file backend", "error", err)
			os.Exit(1)
		}
		defer fb.Close()
		lower = fb
		logger.Info("using file backend", "path", *file, "size", formatSize(size))
	} else {
		lower = backend.NewMemory(size)
		logger.Info("using memory backend", "size", formatSize(size))
	}

	proto, err := parseProtocol(*protocol)
	if err != nil {
		log.Fatalf("invalid -protocol %q: %v", *protocol, err)
	}

	role := nrbd.RoleSecondary
	if *primary {
		role = nrbd.RolePrimary
	}

	device, err := nrbd.New(nrbd.Config{
		Backend:     lower,
		MetaPath:    *metaPath,
		LocalAddr:   *localAddr,
		PeerAddr:    *peerAddr,
		InitialRole: role,
		Protocol:    proto,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create device", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- device.Serve(ctx)
	}()

	fmt.Printf("Replicated device started: meta=%s local=%s peer=%s role=%s protocol=%s\n",
		*metaPath, *localAddr, *peerAddr, role, *protocol)
	fmt.Printf("Press Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			logger.Info("=== GOROUTINE STACK TRACE DUMP ===")
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== FULL GOROUTINE STACK DUMP ===\n%s\n=== END STACK DUMP ===\n\n", buf[:n])

			filename := fmt.Sprintf("nrbd-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "Goroutine stack dump at %s\nProcess ID: %d\n\n", time.Now().Format(time.RFC3339), os.Getpid())
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Info("stack trace written to file", "file", filename)
			}
		}
	}()

	statusCh := make(chan os.Signal, 1)
	signal.Notify(statusCh, syscall.SIGUSR2)
	go func() {
		for range statusCh {
			logger.Info("status", "status", device.Status())
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("device stopped unexpectedly", "error", err)
		}
	}

	cancel()

	cleanupDone := make(chan struct{})
	go func() {
		if err := device.Close(); err != nil {
			logger.Error("error closing device", "error", err)
		} else {
			logger.Info("device closed successfully")
		}
		close(cleanupDone)
	}()

	select {
	case <-cleanupDone:
	case <-time.After(5 * time.Second):
		logger.Info("cleanup timeout, forcing exit")
	}

	os.Exit(0)
}

func parseProtocol(s string) (nrbd.Protocol, error) {
	switch strings.ToUpper(s) {
	case "A":
		return nrbd.ProtocolA, nil
	case "B":
		return nrbd.ProtocolB, nil
	case "C":
		return nrbd.ProtocolC, nil
	default:
		return 0, fmt.Errorf("must be one of A, B, C")
	}
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
