// Slclink - SLC-500 / MicroLogix gateway daemon
//
// Polls PCCC data table addresses over EtherNet/IP and republishes
// values via REST API, MQTT, Valkey, and Kafka.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slclink/api"
	"slclink/config"
	"slclink/kafka"
	"slclink/logging"
	"slclink/mqtt"
	"slclink/plcman"
	"slclink/valkey"
)

// Version is set at build time via -ldflags
var Version = "dev"

// preprocessLogDebugFlag handles --log-debug without a value by injecting "all" as the default.
// This allows users to use `--log-debug` alone to enable all protocol logging.
func preprocessLogDebugFlag() {
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		// Check for --log-debug or -log-debug without =
		if arg == "--log-debug" || arg == "-log-debug" {
			// Check if next arg exists and is not another flag
			if i+1 >= len(args) || (len(args[i+1]) > 0 && args[i+1][0] == '-') {
				// No value provided, inject "all"
				os.Args = append(os.Args[:i+2], append([]string{"all"}, os.Args[i+2:]...)...)
			}
			return
		}
		// If it has = sign, value is already provided
		if len(arg) > 11 && (arg[:12] == "--log-debug=" || arg[:11] == "-log-debug=") {
			return
		}
	}
}

// Command line flags
var (
	configPath  = flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	namespace   = flag.String("namespace", "", "Set namespace (saved to config)")
	httpPort    = flag.Int("p", 0, "HTTP listen port (overrides config)")
	httpHost    = flag.String("host", "", "HTTP bind address (overrides config)")
	noAPI       = flag.Bool("no-api", false, "Disable REST API (ephemeral)")
	logFile     = flag.String("log", "", "Path to log file (optional)")
	logDebug    = flag.String("log-debug", "", "Enable debug logging to debug.log")
)

func main() {
	// Pre-process args to handle --log-debug without a value
	preprocessLogDebugFlag()

	flag.Parse()

	if *showVersion {
		fmt.Printf("slclink %s\n", Version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Handle --namespace flag: overwrite config and save
	if *namespace != "" {
		if !config.IsValidNamespace(*namespace) {
			fmt.Fprintf(os.Stderr, "Error: invalid namespace '%s' (use alphanumeric, hyphen, underscore, dot)\n", *namespace)
			os.Exit(1)
		}
		cfg.Namespace = *namespace
		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Namespace set to '%s' and saved to config\n", *namespace)
	}

	// Override web config from flags (in memory only)
	if *httpPort != 0 {
		cfg.Web.Port = *httpPort
	}
	if *httpHost != "" {
		cfg.Web.Host = *httpHost
	}
	if *noAPI {
		cfg.Web.Enabled = false
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	run(cfg)
}

// run is the daemon startup flow.
func run(cfg *config.Config) {
	// Set up file logging if specified
	var fileLogger *logging.FileLogger
	if *logFile != "" {
		var err error
		fileLogger, err = logging.NewFileLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open log file: %v\n", err)
		}
	}
	logLine := func(format string, args ...interface{}) {
		fmt.Printf(format+"\n", args...)
		if fileLogger != nil {
			fileLogger.Log(format, args...)
		}
	}

	// Set up debug logging if specified
	var debugLoggerFile *logging.DebugLogger
	debugFilter := *logDebug
	if debugFilter == "" {
		debugFilter = cfg.DebugLog
	}
	if debugFilter != "" {
		var err error
		debugLoggerFile, err = logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open debug log: %v\n", err)
		} else {
			if debugFilter == "all" || debugFilter == "true" || debugFilter == "1" {
				debugFilter = ""
			}
			debugLoggerFile.SetFilter(debugFilter)
			logging.SetGlobalDebugLogger(debugLoggerFile)
			if debugFilter == "" {
				logLine("Debug logging enabled (all protocols) - writing to debug.log")
			} else {
				logLine("Debug logging enabled (filter: %s) - writing to debug.log", debugFilter)
			}
		}
	}

	// Create PLC manager
	manager := plcman.NewManager(cfg.GetPollRate())
	manager.LoadFromConfig(cfg)

	// Create broker managers
	mqttMgr := mqtt.NewManager()
	mqttMgr.LoadFromConfig(cfg.Namespace, cfg.MQTT)

	valkeyMgr := valkey.NewManager()
	valkeyMgr.LoadFromConfig(cfg.Namespace, cfg.Valkey)

	kafkaMgr := kafka.NewManager()
	kafkaMgr.LoadFromConfig(cfg.Namespace, cfg.Kafka)

	// Set up publishing on value changes
	setupValueChangeHandlers(manager, mqttMgr, valkeyMgr, kafkaMgr)

	// Set up MQTT/Valkey/Kafka write handling
	setupWriteHandlers(manager, mqttMgr, valkeyMgr, kafkaMgr)

	// Set PLC names for MQTT write subscriptions
	plcNames := make([]string, len(cfg.PLCs))
	for i, plc := range cfg.PLCs {
		plcNames[i] = plc.Name
	}
	mqttMgr.SetPLCNames(plcNames)

	// Set up Valkey on-connect callback for initial sync
	valkeyMgr.SetOnConnectCallback(func() {
		forcePublishAllValuesToValkey(manager, valkeyMgr)
	})

	// Start manager polling
	manager.Start()

	// Start HTTP server (unless disabled)
	var apiServer *api.Server
	if cfg.Web.Enabled {
		apiServer = api.NewServer(manager, &cfg.Web)
		if err := apiServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to start API server on %s: %v\n", cfg.Web.Addr(), err)
			fmt.Fprintf(os.Stderr, "Continuing without HTTP server.\n")
			apiServer = nil
		} else {
			logLine("REST API at %s", apiServer.Address())
		}
	}

	// Auto-connect enabled PLCs
	manager.ConnectEnabled()

	// Auto-start enabled MQTT publishers
	go func() {
		if started := mqttMgr.StartAll(); started > 0 {
			forcePublishAllValuesToMQTT(manager, mqttMgr)
		}
	}()

	// Auto-start enabled Valkey publishers
	go valkeyMgr.StartAll()

	// Auto-connect enabled Kafka clusters
	go kafkaMgr.ConnectEnabled()

	// Start health publishing loop
	go publishHealthLoop(manager, valkeyMgr, kafkaMgr)

	logLine("slclink %s running. Press Ctrl+C to stop.", Version)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logLine("Received %v, shutting down...", sig)

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		mqttMgr.StopAll()
		valkeyMgr.StopAll()
		kafkaMgr.StopAll()
		if apiServer != nil {
			apiServer.Stop()
		}
		manager.Stop()
		manager.DisconnectAll()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
	}

	if fileLogger != nil {
		fileLogger.Close()
	}
	if debugLoggerFile != nil {
		debugLoggerFile.Close()
	}

	fmt.Println("Stopped")
}

// forcePublishAllValuesToMQTT publishes all current tag values to MQTT brokers.
func forcePublishAllValuesToMQTT(manager *plcman.Manager, mqttMgr *mqtt.Manager) {
	values := manager.GetAllCurrentValues()
	logging.DebugLog("mqtt", "ForcePublishAllValues: publishing %d values", len(values))
	for _, v := range values {
		mqttMgr.Publish(v.PLCName, v.TagName, v.Address, v.FileType, v.Value, true)
	}
}

// forcePublishAllValuesToValkey publishes all current tag values to Valkey servers.
func forcePublishAllValuesToValkey(manager *plcman.Manager, valkeyMgr *valkey.Manager) {
	values := manager.GetAllCurrentValues()
	logging.DebugLog("valkey", "ForcePublishAllValuesToValkey: publishing %d values", len(values))
	for _, v := range values {
		writable := manager.IsTagWritable(v.PLCName, v.TagName)
		valkeyMgr.Publish(v.PLCName, v.TagName, v.Address, v.FileType, v.Value, writable)
	}
}

// publishHealthLoop publishes PLC health status to all services every 10 seconds.
func publishHealthLoop(manager *plcman.Manager, valkeyMgr *valkey.Manager, kafkaMgr *kafka.Manager) {
	time.Sleep(2 * time.Second)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	publishAllHealth(manager, valkeyMgr, kafkaMgr)

	for range ticker.C {
		publishAllHealth(manager, valkeyMgr, kafkaMgr)
	}
}

// publishAllHealth publishes health status for all PLCs to Valkey and Kafka.
func publishAllHealth(manager *plcman.Manager, valkeyMgr *valkey.Manager, kafkaMgr *kafka.Manager) {
	for _, plc := range manager.ListPLCs() {
		status := plc.GetStatus()
		online := status == plcman.StatusConnected
		errMsg := ""
		if err := plc.GetError(); err != nil {
			errMsg = err.Error()
		}
		mode := plc.GetConnectionMode()

		valkeyMgr.PublishHealth(plc.Config.Name, mode, online, status.String(), errMsg)
		kafkaMgr.PublishHealth(plc.Config.Name, online, status.String(), errMsg)
	}
}

// setupValueChangeHandlers sets up the value change callback for publishing to MQTT, Valkey, and Kafka.
func setupValueChangeHandlers(manager *plcman.Manager, mqttMgr *mqtt.Manager, valkeyMgr *valkey.Manager, kafkaMgr *kafka.Manager) {
	manager.SetOnValueChange(func(changes []plcman.ValueChange) {
		mqttRunning := mqttMgr.AnyRunning()
		valkeyRunning := valkeyMgr.AnyRunning()
		kafkaPublishing := kafkaMgr.AnyPublishing()

		if !mqttRunning && !valkeyRunning && !kafkaPublishing {
			return
		}

		changesCopy := make([]plcman.ValueChange, len(changes))
		copy(changesCopy, changes)

		if mqttRunning {
			go func() {
				for _, c := range changesCopy {
					mqttMgr.Publish(c.PLCName, c.TagName, c.Address, c.FileType, c.Value, false)
				}
			}()
		}

		if valkeyRunning {
			go func() {
				for _, c := range changesCopy {
					writable := manager.IsTagWritable(c.PLCName, c.TagName)
					valkeyMgr.Publish(c.PLCName, c.TagName, c.Address, c.FileType, c.Value, writable)
				}
			}()
		}

		if kafkaPublishing {
			go func() {
				for _, c := range changesCopy {
					writable := manager.IsTagWritable(c.PLCName, c.TagName)
					kafkaMgr.Publish(c.PLCName, c.TagName, c.Address, c.FileType, c.Value, writable, false)
				}
			}()
		}
	})
}

// setupWriteHandlers sets up MQTT, Valkey, and Kafka write handling.
func setupWriteHandlers(manager *plcman.Manager, mqttMgr *mqtt.Manager, valkeyMgr *valkey.Manager, kafkaMgr *kafka.Manager) {
	writeHandler := func(plcName, tagName string, value interface{}) error {
		return manager.WriteTag(plcName, tagName, value)
	}

	writeValidator := func(plcName, tagName string) bool {
		return manager.IsTagWritable(plcName, tagName)
	}

	tagTypeLookup := func(plcName, tagName string) string {
		return manager.GetTagFileType(plcName, tagName)
	}

	mqttMgr.SetWriteHandler(writeHandler)
	mqttMgr.SetWriteValidator(writeValidator)
	mqttMgr.SetTagTypeLookup(tagTypeLookup)

	valkeyMgr.SetWriteHandler(writeHandler)
	valkeyMgr.SetWriteValidator(writeValidator)

	kafkaMgr.SetWriteHandler(writeHandler)
	kafkaMgr.SetWriteValidator(writeValidator)
}
