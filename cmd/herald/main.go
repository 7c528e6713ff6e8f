// herald - custom join/leave message dispatch for game server networks
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ernie/herald/internal/api"
	"github.com/ernie/herald/internal/config"
	"github.com/ernie/herald/internal/duration"
	"github.com/ernie/herald/internal/engine"
	"github.com/ernie/herald/internal/host"
	"github.com/ernie/herald/internal/ledger"
	"github.com/ernie/herald/internal/sideband"
)

var version = "dev"

const defaultConfigPath = "/etc/herald/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		cmdInit(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	case "players":
		cmdPlayers(os.Args[2:])
	case "seen":
		cmdSeen(os.Args[2:])
	case "check":
		cmdCheck(os.Args[2:])
	case "version":
		fmt.Printf("herald %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: herald <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init                 Write a starter config file")
	fmt.Println("  serve                Start the message dispatcher")
	fmt.Println("  players              List every player in the ledger")
	fmt.Println("  seen <name|uuid>     Show one player's join history")
	fmt.Println("  check <window>       Validate and normalize a time window (e.g. 1d2h30m)")
	fmt.Println("  version              Show version")
	fmt.Println("  help                 Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>      Path to configuration file (default /etc/herald/config.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  herald init --config ./herald.yml")
	fmt.Println("  herald serve --config ./herald.yml")
	fmt.Println("  herald players")
	fmt.Println("  herald seen Bob")
	fmt.Println("  herald check 1d12h")
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	fmt.Fprintf(os.Stderr, "No config file found at %s. Use --config to specify one.\n", defaultConfigPath)
	os.Exit(1)
	return ""
}

func newLogger(debug bool) *zap.SugaredLogger {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger.Sugar()
}

// cmdInit writes a commented starter configuration.
func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "%s already exists (use --force to overwrite)\n", *configPath)
		os.Exit(1)
	}

	cfg := starterConfig()
	if err := config.Save(*configPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "writing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote starter config to %s\n", *configPath)
}

func starterConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Process.Name = "proxy"
	cfg.Process.Mode = "auto"
	cfg.HTTP.ListenAddr = "127.0.0.1"
	cfg.HTTP.Port = 8080
	cfg.HTTP.MaxPlayers = 100
	cfg.Ledger.Backend = "file"
	cfg.Ledger.Path = "/var/lib/herald/players.json"
	cfg.Sideband.Transport = "udp"
	cfg.Sideband.Subject = "herald.sync"
	cfg.Features.Welcome.DelayMillis = 500
	cfg.Features.Welcome.ReturningThreshold = "1d"
	cfg.Groups.Priority = map[string]int{"default": 0, "vip": 10, "admin": 100}
	cfg.Messages = config.MessageTree{
		"default": {
			"join": {
				"default":    {"<yellow>{player} joined the game</yellow>"},
				"first-time": {"<gold>Welcome {player} to the server for the first time!</gold>"},
				"returning":  {"<yellow>{player} is back! Last seen {last_seen}</yellow>"},
			},
			"leave": {
				"default": {"<yellow>{player} left the game</yellow>"},
			},
			"welcome": {
				"first-time": {"<green>Welcome, {player}! You are player {online_count} of {max_players}.</green>"},
				"returning":  {"<green>Welcome back, {player}!</green>"},
			},
			"server-switch": {
				"default": {"<gray>{player} moved from {from} to {to}</gray>"},
			},
		},
	}
	return cfg
}

// cmdServe runs the dispatcher until interrupted.
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	debug := fs.Bool("debug", false, "verbose logging")
	fs.Parse(args)

	log := newLogger(*debug)
	defer log.Sync()

	cfg, err := config.Load(resolveConfigPath(*configPath))
	if err != nil {
		log.Fatalw("loading config failed", "error", err)
	}

	mode, err := cfg.ResolveMode()
	if err != nil {
		log.Fatalw("resolving run mode failed", "error", err)
	}
	log.Infow("herald starting", "version", version, "process", cfg.Process.Name, "mode", mode)

	var store ledger.Store
	if mode.OwnsLedger() {
		store, err = ledger.Open(cfg.Ledger)
		if err != nil {
			log.Fatalw("opening ledger failed", "error", err)
		}
		defer store.Close()
		log.Infow("ledger opened", "backend", cfg.Ledger.Backend, "path", cfg.Ledger.Path)
	}

	bridge := host.NewBridge(cfg.Process.Name, cfg.HTTP.MaxPlayers, log)
	eng := engine.New(cfg, mode, bridge, store, log)
	bridge.SetSink(eng)
	go bridge.Run()

	if mode.Relays() {
		sender, err := sideband.NewSender(cfg.Sideband, log)
		if err != nil {
			log.Fatalw("building sideband sender failed", "error", err)
		}
		eng.AttachSender(sender)
		log.Infow("relaying to authority", "transport", cfg.Sideband.Transport, "authority", cfg.Sideband.AuthorityAddr)
	}
	if mode.ReceivesRelays() {
		receiver, err := sideband.NewReceiver(cfg.Sideband, log)
		if err != nil {
			log.Fatalw("building sideband receiver failed", "error", err)
		}
		if err := eng.AttachReceiver(receiver); err != nil {
			log.Fatalw("starting sideband receiver failed", "error", err)
		}
		log.Infow("receiving relays", "transport", cfg.Sideband.Transport, "listen", cfg.Sideband.ListenAddr)
	}
	defer eng.Close()

	router := api.NewRouter(eng, bridge, log)
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.ListenAddr, cfg.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("http server listening", "addr", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Infow("shutting down", "signal", sig.String())
	case err := <-serverErr:
		log.Fatalw("http server failed", "error", err)
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Warnw("http shutdown error", "error", err)
	}
	bridge.Stop()
	log.Infow("shutdown complete")
}

// cmdPlayers lists the ledger.
func cmdPlayers(args []string) {
	fs := flag.NewFlagSet("players", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	store := openLedger(*configPath)
	defer store.Close()

	entries, err := store.List(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "listing players: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tUUID\tFIRST SEEN\tLAST SEEN\t")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n",
			e.Record.Name,
			e.ID,
			e.Record.FirstSeen.Local().Format("2006-01-02 15:04"),
			duration.TimeAgo(time.Since(e.Record.LastSeen)),
		)
	}
	w.Flush()
	fmt.Printf("\n%d players\n", len(entries))
}

// cmdSeen shows one player's record, looked up by name or UUID.
func cmdSeen(args []string) {
	fs := flag.NewFlagSet("seen", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: herald seen <name|uuid>")
		os.Exit(1)
	}
	query := fs.Arg(0)

	store := openLedger(*configPath)
	defer store.Close()

	ctx := context.Background()
	if id, err := uuid.Parse(query); err == nil {
		rec, ok, err := store.Get(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading ledger: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Printf("No record for %s\n", id)
			os.Exit(1)
		}
		printRecord(id.String(), rec.Name, rec.FirstSeen, rec.LastSeen)
		return
	}

	entries, err := store.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading ledger: %v\n", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if strings.EqualFold(e.Record.Name, query) {
			printRecord(e.ID.String(), e.Record.Name, e.Record.FirstSeen, e.Record.LastSeen)
			return
		}
	}
	fmt.Printf("No record for %q\n", query)
	os.Exit(1)
}

func printRecord(id, name string, firstSeen, lastSeen time.Time) {
	fmt.Printf("Player:     %s\n", name)
	fmt.Printf("UUID:       %s\n", id)
	fmt.Printf("First seen: %s\n", firstSeen.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Last seen:  %s (%s)\n", lastSeen.Local().Format("2006-01-02 15:04:05"), duration.TimeAgo(time.Since(lastSeen)))
}

// cmdCheck validates a time-window string.
func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: herald check <window>")
		os.Exit(1)
	}
	window := fs.Arg(0)

	if !duration.IsValid(window) {
		fmt.Printf("%q is not a valid time window\n", window)
		os.Exit(1)
	}
	seconds := duration.ParseSeconds(window)
	fmt.Printf("%s = %d seconds (%s)\n", window, seconds, duration.FormatSeconds(seconds))
}

func openLedger(configPath string) ledger.Store {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	store, err := ledger.Open(cfg.Ledger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening ledger: %v\n", err)
		os.Exit(1)
	}
	return store
}
