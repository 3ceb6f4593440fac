package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"spyglass/internal/actionlog"
	"spyglass/internal/client"
	"spyglass/internal/config"
	"spyglass/internal/controller"
	"spyglass/internal/input"
	"spyglass/internal/scheduler"

	"github.com/op/go-logging"
	"github.com/spf13/pflag"
)

var log = logging.MustGetLogger("log")

// Flags other than --config are read back through viper, which they are
// bound into; env vars and the config file fill whatever flags don't set.
var (
	flagConfig = pflag.String("config", "", "Path to JSON config file (optional)")

	_ = pflag.String("address", "", "Backend base URL, e.g. http://127.0.0.1:5000")
	_ = pflag.Duration("tick-interval", time.Second, "Capture polling interval")
	_ = pflag.Duration("capture-timeout", 800*time.Millisecond, "Grace window per capture fetch")
	_ = pflag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARNING, ERROR)")
	_ = pflag.String("output-dir", "captures", "Directory for the latest frame")
	_ = pflag.Int("action-log-size", 128, "Max retained action history entries")
)

// InitLogger parses the level string and configures the go-logging backend.
func InitLogger(logLevel string) error {
	baseBackend := logging.NewLogBackend(os.Stdout, "", 0)
	format := logging.MustStringFormatter(
		`%{time:2006-01-02 15:04:05} %{level:.5s}     %{message}`,
	)
	backendFormatter := logging.NewBackendFormatter(baseBackend, format)

	backendLeveled := logging.AddModuleLevel(backendFormatter)
	logLevelCode, err := logging.LogLevel(logLevel)
	if err != nil {
		return err
	}
	backendLeveled.SetLevel(logLevelCode, "")

	logging.SetBackend(backendLeveled)
	return nil
}

func main() {
	pflag.Parse()

	cfg, err := config.Init(*flagConfig, pflag.CommandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := InitLogger(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "log: %v\n", err)
		os.Exit(1)
	}
	log.Debugf("Config: %+v", cfg)

	cl, err := client.New(cfg.Address)
	if err != nil {
		log.Fatalf("%v", err)
	}
	sink, err := newFrameSink(cfg.OutputDir)
	if err != nil {
		log.Fatalf("output dir: %v", err)
	}

	sched := scheduler.New(scheduler.Config{
		Fetch:    cl,
		Period:   cfg.TickInterval,
		Timeout:  cfg.CaptureTimeout,
		OnFrame:  sink.HandleFrame,
		OnStatus: sink.HandleStatus,
	})
	actions := actionlog.New(cfg.ActionLogSize)
	ctrl := controller.New(cl, sched, actions)

	// Graceful shutdown: release the remote session before exiting.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received %s, shutting down...", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctrl.Stop(ctx)
		os.Exit(0)
	}()

	log.Infof("spyglass connected to %s; type 'help' for commands", cfg.Address)
	repl(ctrl, sink, actions)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctrl.Stop(ctx)
}

func repl(ctrl *controller.Controller, sink *frameSink, actions *actionlog.Log) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		ctx := context.Background()

		switch fields[0] {
		case "start":
			if err := ctrl.Start(ctx); err != nil {
				log.Errorf("%v", err)
			}
		case "stop":
			if err := ctrl.Stop(ctx); err != nil {
				log.Errorf("%v", err)
			}
		case "click":
			runClick(ctx, ctrl, sink, fields[1:])
		case "type":
			if len(fields) < 2 {
				log.Errorf("usage: type <text...>")
				continue
			}
			if err := ctrl.DispatchText(ctx, strings.Join(fields[1:], " ")); err != nil {
				log.Errorf("%v", err)
			}
		case "status":
			fmt.Printf("session: %s  capture: %s  frames: %d\n",
				ctrl.State(), sink.Status(), sink.FrameCount())
		case "actions":
			for _, e := range actions.Entries() {
				fmt.Printf("%s  %-5s  %s  %s  %s\n",
					e.Time.Format(time.RFC3339), e.Kind, e.SessionID, e.CorrelationID, e.Detail)
			}
		case "help":
			fmt.Println("commands: start | stop | click <x> <y> <displayedW> <displayedH> | type <text...> | status | actions | quit")
		case "quit", "exit":
			return
		default:
			log.Errorf("unknown command %q, try 'help'", fields[0])
		}
	}
}

func runClick(ctx context.Context, ctrl *controller.Controller, sink *frameSink, args []string) {
	if len(args) != 4 {
		log.Errorf("usage: click <x> <y> <displayedW> <displayedH>")
		return
	}
	x, errX := strconv.ParseFloat(args[0], 64)
	y, errY := strconv.ParseFloat(args[1], 64)
	dw, errW := strconv.Atoi(args[2])
	dh, errH := strconv.Atoi(args[3])
	if errX != nil || errY != nil || errW != nil || errH != nil {
		log.Errorf("click arguments must be numbers")
		return
	}

	nw, nh, ok := sink.NaturalSize()
	if !ok {
		log.Warningf("no frame received yet, dropping click")
		return
	}
	rx, ry, err := input.ToRemoteCoords(x, y, dw, dh, nw, nh)
	if err != nil {
		log.Warningf("dropping click: %v", err)
		return
	}
	actionID, err := ctrl.DispatchClick(ctx, rx, ry)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	log.Infof("click (%d,%d) dispatched, action %s", rx, ry, actionID)
}
