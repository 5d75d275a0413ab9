// Package main is the entry point for the agentpipe host.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dshills/agentpipe/internal/bridge"
	"github.com/dshills/agentpipe/internal/config"
	"github.com/dshills/agentpipe/internal/logging"
	"github.com/dshills/agentpipe/internal/transport"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

type options struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	WorkerArgs []string
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Logging.Format = opts.LogFormat
	}
	if len(opts.WorkerArgs) > 0 {
		cfg.Worker.Command = opts.WorkerArgs[0]
		cfg.Worker.Args = opts.WorkerArgs[1:]
	}
	if cfg.Worker.Command == "" {
		fmt.Fprintln(os.Stderr, "Error: no worker command; pass one after -- or set worker.command")
		return 1
	}

	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	br := bridge.New(bridge.Config{
		Command: cfg.Worker.Command,
		Args:    cfg.Worker.Args,
		Env:     cfg.Worker.Env,
		Dir:     cfg.Worker.Dir,
		Timeouts: transport.Timeouts{
			Default:    cfg.Timeouts.Default.Std(),
			Summarize:  cfg.Timeouts.Summarize.Std(),
			FileUpload: cfg.Timeouts.FileUpload.Std(),
		},
		BufferSize:     cfg.Buffer.MaxSize,
		HealthInterval: cfg.Worker.HealthInterval.Std(),
		RestartDelay:   cfg.Worker.RestartDelay.Std(),
		Logger:         logger,
	})

	if err := br.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start worker: %v\n", err)
		return 1
	}

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := br.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}
	defer shutdown()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		shutdown()
		os.Exit(0)
	}()

	go printEvents(br)

	repl(br)
	return 0
}

// printEvents renders bridge events to stdout as they arrive.
func printEvents(br *bridge.Bridge) {
	for ev := range br.Events() {
		switch ev.Kind {
		case bridge.EventConnected:
			fmt.Println("* worker connected")
		case bridge.EventDisconnected:
			if ev.Err != nil {
				fmt.Printf("* worker disconnected: %v\n", ev.Err)
			} else {
				fmt.Println("* worker disconnected")
			}
		case bridge.EventRestarted:
			fmt.Println("* worker restarted")
		case bridge.EventError:
			fmt.Printf("* error: %v\n", ev.Err)
		case bridge.EventMessage:
			fmt.Printf("< %s %s\n", ev.Envelope.Type, string(ev.Envelope.Body))
		}
	}
}

// repl reads host commands from stdin until EOF. Lines starting with a slash
// are commands; anything else goes to the worker as a chat turn.
func repl(br *bridge.Bridge) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := br.Chat("", line); err != nil {
				fmt.Fprintf(os.Stderr, "chat: %v\n", err)
			}
			continue
		}
		if quit := dispatch(br, line); quit {
			return
		}
	}
}

// dispatch runs one slash command and reports whether the host should exit.
func dispatch(br *bridge.Bridge, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/interrupt":
		session := ""
		if len(args) > 0 {
			session = args[0]
		}
		if err := br.Interrupt(session); err != nil {
			fmt.Fprintf(os.Stderr, "interrupt: %v\n", err)
		}

	case "/cmd":
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "usage: /cmd <command> [session-id]")
			return false
		}
		session := ""
		if len(args) > 1 {
			session = args[1]
		}
		resp, err := br.Command(context.Background(), args[0], session, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "command: %v\n", err)
			return false
		}
		if !resp.Success {
			fmt.Printf("< command failed: %s\n", resp.Error)
			return false
		}
		fmt.Printf("< ok %v\n", resp.Result)

	case "/upload":
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "usage: /upload <path>")
			return false
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload: %v\n", err)
			return false
		}
		resp, err := br.Upload(context.Background(), filepath.Base(args[0]), "", data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload: %v\n", err)
			return false
		}
		if !resp.Success {
			fmt.Printf("< upload failed: %s\n", resp.Error)
			return false
		}
		fmt.Printf("< uploaded to %s (%d bytes)\n", resp.Path, resp.Size)

	case "/restart":
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := br.Restart(ctx)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "restart: %v\n", err)
		}

	case "/stats":
		st := br.Stats()
		fmt.Printf("state=%s uptime=%s version=%d pending=%d dropped=%d buffer=%d/%d msgs=%d discarded=%d\n",
			st.State, st.Uptime.Round(time.Second), st.ProtocolVersion, st.Pending, st.DroppedEvents,
			st.Buffer.BufferSize, st.Buffer.BytesReceived, st.Buffer.MessageCount, st.Buffer.Discarded)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %s (try /cmd, /upload, /interrupt, /restart, /stats, /quit)\n", cmd)
	}
	return false
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&opts.LogFormat, "log-format", "", "Log format (text, json)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Agentpipe - stdio bridge to an agent worker process\n\n")
		fmt.Fprintf(os.Stderr, "Usage: agentpipe [options] [-- worker-command [args...]]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  agentpipe -- agent-worker --stdio     Launch and chat with a worker\n")
		fmt.Fprintf(os.Stderr, "  agentpipe -c agentpipe.toml           Worker taken from the config file\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("Agentpipe %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	opts.WorkerArgs = flag.Args()
	return opts
}
