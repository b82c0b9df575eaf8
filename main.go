package main

import (
	"break-scheduler/alarm"
	"break-scheduler/api"
	"break-scheduler/config"
	"break-scheduler/formatter"
	"break-scheduler/metrics"
	"break-scheduler/models"
	"break-scheduler/notify"
	"break-scheduler/parser"
	"break-scheduler/server"
	"break-scheduler/session"
	"break-scheduler/store"
	"break-scheduler/tracker"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Define flags
	configPath := flag.String("config", "break-scheduler.yml", "YAML config file (optional)")
	agentID := flag.String("agent", "", "Agent ID (overrides config)")
	agentName := flag.String("name", "", "Agent display name (overrides config)")
	apiURL := flag.String("api", "", "Breaks backend base URL (overrides config)")
	listen := flag.String("listen", "", "Address for the local status/SSE/metrics server (overrides config)")
	format := flag.String("format", "text", "Output format for -once: text|json|csv")
	once := flag.Bool("once", false, "Print the current status once and exit")
	importFile := flag.String("import", "", "Import break schedules from a CSV file and exit")
	pushGateway := flag.String("push-url", "", "Pushgateway URL to push metrics to on exit (e.g., http://localhost:9091)")
	debug := flag.Bool("debug", false, "Enable debug logging")

	// Parse command-line flags
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	applyFlag(&cfg.AgentID, *agentID)
	applyFlag(&cfg.AgentName, *agentName)
	applyFlag(&cfg.APIURL, *apiURL)
	applyFlag(&cfg.ListenAddr, *listen)

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	if *debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	// Validate format enum
	validFormats := map[string]bool{"text": true, "json": true, "csv": true}
	if !validFormats[*format] {
		fmt.Printf("Error: format must be one of: text, json, csv (got: %s)\n", *format)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := api.NewClient(cfg.APIURL, nil)
	schedules := store.New(client)

	if *importFile != "" {
		err = runImport(ctx, schedules, *importFile)
		pushMetrics(*pushGateway)
		if err != nil {
			log.Fatal().Err(err).Msg("Import failed")
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	loc, _ := cfg.Location()
	agent := models.Identity{AgentID: cfg.AgentID, AgentName: cfg.AgentName}

	events := notify.NewBroadcaster()
	notifier := notify.Multi{notify.LogNotifier{}, events}
	var player alarm.Player = notify.NopPlayer{}
	if cfg.Alarm.SoundCommand != "" {
		player = notify.NewCommandPlayer(cfg.Alarm.SoundCommand)
	}

	engine := alarm.New(agent, alarm.Options{
		TriggerWindow:     cfg.Alarm.TriggerWindow,
		Cooldown:          cfg.Alarm.Cooldown,
		ReminderLead:      cfg.Alarm.ReminderLead,
		IncludeEndOfShift: cfg.Alarm.EndOfShift,
	}, notifier, player)
	breaks := tracker.New(agent, client, notifier, tracker.Options{
		BioPool:    cfg.Bio.Pool,
		BioWarning: cfg.Bio.Warning,
	})
	runner := session.New(agent, schedules, engine, breaks, session.Options{
		Intervals: session.Intervals{
			Schedule:   cfg.Intervals.Schedule,
			AlarmCheck: cfg.Intervals.AlarmCheck,
			BreakPoll:  cfg.Intervals.BreakPoll,
			Display:    cfg.Intervals.Display,
		},
		Location: loc,
	})

	// Output based on format
	if *once {
		status := runner.Once(ctx)
		switch *format {
		case "json":
			fmt.Println(formatter.FormatJSON(&status))
		case "csv":
			fmt.Print(formatter.FormatCSV(&status))
		default: // "text"
			fmt.Print(formatter.FormatText(&status))
		}
		pushMetrics(*pushGateway)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	if cfg.ListenAddr != "" {
		g.Go(func() error { return server.New(runner, events).ListenAndServe(gctx, cfg.ListenAddr) })
	}
	err = g.Wait()
	pushMetrics(*pushGateway)
	if err != nil {
		log.Fatal().Err(err).Msg("Session failed")
	}
	log.Info().Msg("Exiting")
}

func applyFlag(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func runImport(ctx context.Context, schedules *store.ScheduleStore, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	data, err := parser.Parse(file)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	failed := 0
	for _, res := range schedules.Import(ctx, data) {
		if res.Err != nil {
			failed++
			fmt.Printf("%s: FAILED: %v\n", res.AgentID, res.Err)
			continue
		}
		fmt.Printf("%s: imported\n", res.AgentID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d schedules failed to import", failed, len(data))
	}
	return nil
}

// pushMetrics pushes the registry to a Pushgateway, if one is configured.
func pushMetrics(url string) {
	if url == "" {
		return
	}
	jobName := "break_scheduler"
	if err := push.New(url, jobName).Gatherer(metrics.Registry).Push(); err != nil {
		fmt.Fprintf(os.Stderr, "Error pushing to Pushgateway: %v\n", err)
		return
	}
	log.Info().Str("url", url).Msg("Metrics pushed to Pushgateway")
}
