// fleetctl is a thin command-line front end for the procfleet control plane:
// it resolves credentials, builds the client from YAML config, and maps each
// subcommand onto one facade operation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/procfleet/procfleet/pkg/authtoken"
	"github.com/procfleet/procfleet/pkg/procfleet"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: fleetctl <command> [flags] [args]

Commands:
  ps                        List supervised processes
  state                     Show aggregate fleet state
  start|stop|restart <id>   Control one process
  block|unblock <id>        Gate one process
  logs                      Query stored logs
  watch                     Tail the live event stream
  terminate                 Shut the whole fleet down

Common flags:
  -config path   configuration file (default "procfleet.yaml")
  -env path      .env file with credentials (ignored if missing)
  -verbose       enable debug logging
`)
}

type logsFlags struct {
	processID string
	severity  string
	nRows     int
	start     int64
	end       int64
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "procfleet.yaml", "path to configuration file")
	envFile := fs.String("env", ".env", "path to .env file (ignored if missing)")
	verbose := fs.Bool("verbose", false, "enable debug logging")

	var lf logsFlags
	if command == "logs" {
		fs.StringVar(&lf.processID, "process", "", "filter by process id")
		fs.StringVar(&lf.severity, "severity", "", "filter by severity")
		fs.IntVar(&lf.nRows, "n", 100, "maximum rows to fetch")
		fs.Int64Var(&lf.start, "start", 0, "start timestamp (unix milliseconds)")
		fs.Int64Var(&lf.end, "end", 0, "end timestamp (unix milliseconds)")
	}

	watchTypes := "log,state,telemetry"
	if command == "watch" {
		fs.StringVar(&watchTypes, "types", watchTypes, "comma-separated event types to tail")
	}

	_ = fs.Parse(os.Args[2:])

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(*verbose)

	client, err := newClient(*configPath, logger, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := dispatch(ctx, client, command, fs.Args(), lf, watchTypes); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

// newClient builds the facade from configuration and warns when the bearer
// token is about to expire.
func newClient(configPath string, logger zerolog.Logger, verbose bool) (*procfleet.Client, error) {
	cfg, err := procfleet.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	client, err := cfg.NewClient()
	if err != nil {
		return nil, err
	}

	if verbose {
		client.Rest().Logger = logger
		client.Stream().Logger = logger
	}

	token := client.Rest().Token()
	if exp, ok := authtoken.Expiry(token); ok {
		switch {
		case time.Now().After(exp):
			logger.Warn().Time("expired_at", exp).Msg("bearer token has expired")
		case authtoken.ExpiresWithin(token, 10*time.Minute):
			logger.Warn().Time("expires_at", exp).Msg("bearer token expires soon")
		}
	}

	return client, nil
}

func dispatch(ctx context.Context, client *procfleet.Client, command string, args []string, lf logsFlags, watchTypes string) error {
	switch command {
	case "ps":
		return runPS(ctx, client)
	case "state":
		return runState(ctx, client)
	case "start", "stop", "restart", "block", "unblock":
		if len(args) != 1 {
			return fmt.Errorf("%s requires exactly one process id", command)
		}
		return runProcessAction(ctx, client, command, args[0])
	case "logs":
		return runLogs(ctx, client, lf)
	case "watch":
		return runWatch(ctx, client, strings.Split(watchTypes, ","))
	case "terminate":
		if err := client.Terminate(ctx); err != nil {
			return err
		}
		fmt.Println("fleet terminating")
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runPS(ctx context.Context, client *procfleet.Client) error {
	procs, err := client.Processes(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%-20s %-12s %-8s %s\n", "ID", "STATUS", "PID", "BLOCKED")
	for _, p := range procs {
		pid := "-"
		if p.Pid != 0 {
			pid = fmt.Sprint(p.Pid)
		}
		fmt.Printf("%-20s %-12s %-8s %v\n", p.ID, p.Status, pid, p.Blocked)
	}

	return nil
}

func runState(ctx context.Context, client *procfleet.Client) error {
	st, err := client.State(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("fleet: %s (%d processes)\n", st.Status, len(st.Processes))
	for _, p := range st.Processes {
		fmt.Printf("  %s: %s\n", p.ID, p.Status)
	}

	return nil
}

func runProcessAction(ctx context.Context, client *procfleet.Client, action, id string) error {
	var err error
	switch action {
	case "start":
		err = client.StartProcess(ctx, id)
	case "stop":
		err = client.StopProcess(ctx, id)
	case "restart":
		err = client.RestartProcess(ctx, id)
	case "block":
		err = client.BlockProcess(ctx, id)
	case "unblock":
		err = client.UnblockProcess(ctx, id)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", id, action)

	return nil
}

func runLogs(ctx context.Context, client *procfleet.Client, lf logsFlags) error {
	items, err := client.Logs(ctx, procfleet.LogQuery{
		ProcessID:      lf.processID,
		Severity:       lf.severity,
		NRows:          lf.nRows,
		StartTimeStamp: lf.start,
		EndTimeStamp:   lf.end,
	})
	if err != nil {
		return err
	}

	for _, item := range items {
		ts := time.UnixMilli(item.TimeStamp).Format(time.RFC3339)
		fmt.Printf("%s %-8s %-20s %s\n", ts, item.Severity, item.ProcessID, item.Message)
	}

	return nil
}

// runWatch tails the live event stream until interrupted.
func runWatch(ctx context.Context, client *procfleet.Client, types []string) error {
	for _, typ := range types {
		typ = strings.TrimSpace(typ)
		if typ == "" {
			continue
		}

		eventType := typ
		client.Events().On(eventType, func(d json.RawMessage) {
			fmt.Printf("%s %s %s\n", time.Now().Format(time.RFC3339), eventType, string(d))
		})
	}

	client.StartEvents()

	<-ctx.Done()

	return nil
}
