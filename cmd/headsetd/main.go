package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("headsetd v%s\n", version)
	fmt.Println("Headset media-button detection daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  headsetd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Listens for headset button presses on several channels at once (evdev media")
	fmt.Println("  keys, MPRIS transport commands, manual triggers), folds duplicates inside a")
	fmt.Println("  debounce window into one logical press, confirms it with a short tone and")
	fmt.Println("  publishes the result over HTTP, WebSocket and a Unix socket.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to a YAML (.yaml/.yml) or TOML (.toml) config file")
	fmt.Println()
	fmt.Println("  -env-file string")
	fmt.Println("        Dotenv file loaded before HEADSETD_* variables are applied (default \".env\")")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        Input device path or glob (default \"/dev/input/by-id/*-event-kbd\")")
	fmt.Println()
	fmt.Println("  -input-grab")
	fmt.Println("        Take exclusive access to input devices (EVIOCGRAB)")
	fmt.Println()
	fmt.Println("  -debounce-ms int")
	fmt.Printf("        Minimum spacing between accepted presses in ms (default %d)\n", defaultDebounceMS)
	fmt.Println()
	fmt.Println("  -tone")
	fmt.Println("        Play a confirmation tone on accepted presses (default true)")
	fmt.Println()
	fmt.Println("  -transport")
	fmt.Println("        Register as an MPRIS player on the session bus (default true)")
	fmt.Println()
	fmt.Println("  -transport-bus-name string")
	fmt.Println("        MPRIS name suffix, org.mpris.MediaPlayer2.<name> (default \"headsetd\")")
	fmt.Println()
	fmt.Println("  -visibility")
	fmt.Println("        Log logind session activation changes (default true)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/headsetd.sock\")")
	fmt.Println()
	fmt.Println("  -api-port int")
	fmt.Println("        HTTP API / WebSocket / metrics port (default 3001)")
	fmt.Println()
	fmt.Println("  -worker")
	fmt.Println("        Run the caching worker (requires -worker-origin)")
	fmt.Println()
	fmt.Println("  -worker-origin string")
	fmt.Println("        Origin the caching worker serves from (e.g. http://127.0.0.1:5173)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -log-format string")
	fmt.Println("        Log format: text, json (default \"text\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with defaults")
	fmt.Println("  headsetd")
	fmt.Println()
	fmt.Println("  # Grab a specific headset and use a shorter window")
	fmt.Println("  headsetd -input-device /dev/input/event7 -input-grab -debounce-ms 300")
	fmt.Println()
	fmt.Println("  # Simulate a press from another terminal")
	fmt.Println("  headsetctl simulate")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to input devices (run as root or add user to 'input' group)")
	fmt.Println("  - Every option can also be set with HEADSETD_* environment variables")
	fmt.Println()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath        = flag.String("config", "", "Path to YAML or TOML config file")
		envFile           = flag.String("env-file", ".env", "Dotenv file applied before HEADSETD_* variables")
		inputDevice       = flag.String("input-device", "", "Input device path or glob")
		inputGrab         = flag.Bool("input-grab", false, "Take exclusive access to input devices")
		debounceMS        = flag.Int("debounce-ms", defaultDebounceMS, "Minimum spacing between accepted presses in ms")
		toneEnabled       = flag.Bool("tone", true, "Play a confirmation tone on accepted presses")
		transportEnabled  = flag.Bool("transport", true, "Register as an MPRIS player")
		transportBusName  = flag.String("transport-bus-name", "headsetd", "MPRIS name suffix")
		visibilityEnabled = flag.Bool("visibility", true, "Log logind session activation changes")
		ipcSocketPath     = flag.String("ipc-socket", "/tmp/headsetd.sock", "Unix domain socket path for IPC")
		apiPort           = flag.Int("api-port", 3001, "HTTP API port")
		workerEnabled     = flag.Bool("worker", false, "Run the caching worker")
		workerOrigin      = flag.String("worker-origin", "", "Origin the caching worker serves from")
		logLevelStr       = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		logFormat         = flag.String("log-format", "text", "Log format: text, json")
		showVersion       = flag.Bool("version", false, "Print version and exit")
		showHelp          = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return nil
	}
	if *showVersion {
		printVersion()
		return nil
	}

	// Only flags the user actually passed override file and environment values.
	var ov FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input-device":
			ov.InputDevice = inputDevice
		case "input-grab":
			ov.InputGrab = inputGrab
		case "debounce-ms":
			ov.DebounceMS = debounceMS
		case "tone":
			ov.ToneEnabled = toneEnabled
		case "transport":
			ov.TransportEnabled = transportEnabled
		case "transport-bus-name":
			ov.TransportBusName = transportBusName
		case "visibility":
			ov.VisibilityEnabled = visibilityEnabled
		case "ipc-socket":
			ov.IPCSocketPath = ipcSocketPath
		case "api-port":
			ov.APIPort = apiPort
		case "worker":
			ov.WorkerEnabled = workerEnabled
		case "worker-origin":
			ov.WorkerOrigin = workerOrigin
		case "log-level":
			ov.LogLevel = logLevelStr
		case "log-format":
			ov.LogFormat = logFormat
		}
	})

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := ApplyEnv(&cfg, *envFile); err != nil {
		return err
	}
	ov.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := setupLogger(os.Stdout, logLevel, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Central event bus: every adapter and server submits here; the daemon loop is
	// the only reader.
	events := make(chan Event, defaultEventQueueSize)
	broadcasts := make(chan StateBroadcast, 64)

	var tone Tone = nopTone{}
	if cfg.Tone.Enabled {
		tone = newBeepTone(cfg.ToneParams())
	}

	ws := NewStateServer(logger, events, HubConfig{})
	sink := newEventSink(events, logger)
	manual := NewManualTrigger(sink)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ws.Hub().Run(gctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(gctx, ws.Hub(), broadcasts, logger)
		return nil
	})
	g.Go(func() error {
		runDaemon(gctx, events, tone, cfg.FusionPolicy(), &DaemonState{}, broadcasts, logger)
		return nil
	})
	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
	})
	g.Go(func() error {
		api := NewAPIRouter(APIConfig{AllowedOrigins: cfg.API.AllowedOrigins}, events, manual, ws, logger)
		return runHTTPServer(gctx, "api", cfg.API.Port, api, logger)
	})

	lc := &Lifecycle{
		Sink:   sink,
		Logger: logger,
	}

	if cfg.Worker.Enabled {
		worker := NewCacheWorker(WorkerConfig{
			CacheName: cfg.Worker.CacheName,
			Precache:  cfg.Worker.Precache,
		}, ws.Hub(), logger)

		lc.Worker = worker
		lc.WorkerBases = cfg.WorkerBases()

		g.Go(func() error {
			return runHTTPServer(gctx, "worker", cfg.Worker.Port, worker.Router(), logger)
		})
		g.Go(func() error {
			return runWorkerUpdates(gctx, worker, cfg.Worker.UpdateSchedule, logger)
		})
	}
	if cfg.Transport.Enabled {
		lc.Transport = newMPRISProvider(cfg.Transport.BusName)
	}
	if cfg.Input.Enabled {
		lc.Keyboard = &KeyboardAdapter{
			Devices: cfg.Input.Devices,
			Grab:    cfg.Input.Grab,
			Logger:  logger,
		}
	}
	if cfg.Visibility.Enabled {
		lc.Visibility = &VisibilityObserver{
			Session: cfg.Visibility.Session,
			Logger:  logger,
		}
	}

	logger.Info("starting headsetd",
		"version", version,
		"debounce_ms", cfg.Fusion.DebounceMS,
		"input_devices", cfg.Input.Devices,
		"tone", cfg.Tone.Enabled,
		"transport", cfg.Transport.Enabled,
		"ipc", cfg.IPC.SocketPath,
		"api_port", cfg.API.Port,
		"worker", cfg.Worker.Enabled)

	teardown := lc.Activate(gctx)

	<-gctx.Done()
	logger.Info("shutting down")
	teardown()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
