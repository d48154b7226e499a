package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/deepnoodle-ai/flow"
	"github.com/deepnoodle-ai/flow/activities"
	"github.com/deepnoodle-ai/flow/metrics"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
)

// Config holds the flags shared by every command
type Config struct {
	WorkflowFile string
	Store        string
	LogsDir      string
	MetricsFile  string
	InstanceID   string
	Payload      string
	Values       map[string]any
	Timeout      time.Duration
	Verbose      bool
	LogFormat    string
	JSON         bool
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	var err error
	switch command {
	case "run":
		err = runCommand(args)
	case "resume":
		err = resumeCommand(args)
	case "list":
		err = listCommand(args)
	case "show":
		err = showCommand(args)
	case "delete":
		err = deleteCommand(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		color.Red("Error: unknown command %q", command)
		usage()
		os.Exit(2)
	}
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Flow CLI - Run and resume YAML-defined workflows

Usage:
  %[1]s run    -f <workflow.yaml> [-var key=value]...
  %[1]s resume -f <workflow.yaml> -id <instance> -payload <event> [-input key=value]...
  %[1]s list
  %[1]s show   -id <instance>
  %[1]s delete -id <instance>

Stores (-store):
  file://<dir>          one JSON file per instance (default ~/.flow/instances)
  sqlite://<path>       SQLite database file
  redis://<host:port>   Redis server
  postgres://...        PostgreSQL connection URL

Activities:
  Sequence, Fork, If, Event, SetVariable, WriteLine, Fail,
  Script, Time, Add, Subtract, Multiply, Divide

Values given with -var and -input are parsed as JSON if possible,
otherwise used as strings.
`, os.Args[0])
}

func newFlagSet(name string, config *Config) (*flag.FlagSet, *stringSlice) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&config.Store, "store", "", "Instance store location (default file://~/.flow/instances)")
	fs.StringVar(&config.LogsDir, "logs", "", "Directory to export execution logs to (optional)")
	fs.StringVar(&config.MetricsFile, "metrics", "", "Write Prometheus metrics for the pass to this file (optional)")
	fs.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&config.Verbose, "v", false, "Enable verbose logging (shorthand)")
	fs.StringVar(&config.LogFormat, "log-format", "text", "Log format when verbose: text or json")
	fs.BoolVar(&config.JSON, "json", false, "Output results in JSON format")
	fs.DurationVar(&config.Timeout, "timeout", 0, "Pass timeout (e.g., 30s, 5m)")
	return fs, &stringSlice{}
}

func runCommand(args []string) error {
	config := &Config{}
	fs, vars := newFlagSet("run", config)
	fs.StringVar(&config.WorkflowFile, "file", "", "Path to the YAML workflow definition file (required)")
	fs.StringVar(&config.WorkflowFile, "f", "", "Path to the YAML workflow definition file (shorthand)")
	fs.StringVar(&config.InstanceID, "id", "", "Instance ID to use (optional)")
	fs.Var(vars, "var", "Initial variable in format key=value (can be used multiple times)")
	_ = fs.Parse(args)

	values, err := parseValues(*vars)
	if err != nil {
		return err
	}
	config.Values = values

	wf, err := loadWorkflow(config)
	if err != nil {
		return err
	}
	engine, closer, err := newEngine(config, wf)
	if err != nil {
		return err
	}
	defer closer()

	ctx, cancel := passContext(config)
	defer cancel()

	color.Cyan("Workflow: %s", wf.Name())
	if wf.Description() != "" {
		color.White("Description: %s", wf.Description())
	}
	startTime := time.Now()
	result, err := engine.Start(ctx, wf.Name(), flow.StartOptions{
		InstanceID: config.InstanceID,
		Variables:  config.Values,
	})
	if err != nil {
		return err
	}
	return showResult(result, time.Since(startTime), config)
}

func resumeCommand(args []string) error {
	config := &Config{}
	fs, inputs := newFlagSet("resume", config)
	fs.StringVar(&config.WorkflowFile, "file", "", "Path to the YAML workflow definition file (required)")
	fs.StringVar(&config.WorkflowFile, "f", "", "Path to the YAML workflow definition file (shorthand)")
	fs.StringVar(&config.InstanceID, "id", "", "Instance to resume (required)")
	fs.StringVar(&config.Payload, "payload", "", "Event payload that selects the bookmarks to resume (required)")
	fs.Var(inputs, "input", "Event input in format key=value (can be used multiple times)")
	_ = fs.Parse(args)

	if config.InstanceID == "" || config.Payload == "" {
		return fmt.Errorf("resume requires -id and -payload")
	}
	values, err := parseValues(*inputs)
	if err != nil {
		return err
	}
	config.Values = values

	wf, err := loadWorkflow(config)
	if err != nil {
		return err
	}
	engine, closer, err := newEngine(config, wf)
	if err != nil {
		return err
	}
	defer closer()

	ctx, cancel := passContext(config)
	defer cancel()

	startTime := time.Now()
	result, err := engine.Trigger(ctx, flow.Trigger{
		InstanceID: config.InstanceID,
		Payload:    config.Payload,
		Input:      config.Values,
	})
	if err != nil {
		return err
	}
	return showResult(result, time.Since(startTime), config)
}

func listCommand(args []string) error {
	config := &Config{}
	fs, _ := newFlagSet("list", config)
	_ = fs.Parse(args)

	store, closer, err := openStore(context.Background(), config.Store)
	if err != nil {
		return err
	}
	defer closer()

	summaries, err := store.ListInstances(context.Background())
	if err != nil {
		return err
	}
	if config.JSON {
		return printJSON(summaries)
	}
	if len(summaries) == 0 {
		color.Blue("No instances found")
		return nil
	}
	for _, s := range summaries {
		fmt.Printf("%s  %-10s  %-20s  bookmarks=%d  created=%s\n",
			s.InstanceID, statusColor(s.Status)(string(s.Status)), s.WorkflowName,
			s.Bookmarks, s.CreatedAt.Format(time.RFC3339))
		if s.Error != "" {
			color.Red("    %s", s.Error)
		}
	}
	return nil
}

func showCommand(args []string) error {
	config := &Config{}
	fs, _ := newFlagSet("show", config)
	fs.StringVar(&config.InstanceID, "id", "", "Instance to show (required)")
	_ = fs.Parse(args)
	if config.InstanceID == "" {
		return fmt.Errorf("show requires -id")
	}

	ctx := context.Background()
	store, closer, err := openStore(ctx, config.Store)
	if err != nil {
		return err
	}
	defer closer()

	snapshot, err := store.LoadInstance(ctx, config.InstanceID)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return fmt.Errorf("instance %q not found", config.InstanceID)
	}
	if config.JSON {
		return printJSON(snapshot)
	}

	color.Cyan("Instance: %s", snapshot.ID)
	color.White("Workflow: %s", snapshot.WorkflowName)
	fmt.Printf("Status: %s\n", statusColor(snapshot.Status)(string(snapshot.Status)))
	if snapshot.Error != nil {
		color.Red("Error: %s", snapshot.Error.Cause)
	}
	if len(snapshot.Bookmarks) > 0 {
		color.Magenta("Bookmarks:")
		for _, b := range snapshot.Bookmarks {
			fmt.Printf("  %s  activity=%s  payload=%s\n", b.ID, b.ActivityID, b.Payload)
		}
	}
	if len(snapshot.Variables) > 0 {
		color.Magenta("Variables:")
		for key, value := range snapshot.Variables {
			fmt.Printf("  %s: %s\n", key, formatValue(value))
		}
	}
	color.Magenta("Execution log:")
	for _, entry := range snapshot.Log {
		line := fmt.Sprintf("  %4d  %s  %-22s", entry.Sequence, entry.Timestamp.Format(time.RFC3339Nano), entry.Event)
		if entry.ActivityID != "" {
			line += fmt.Sprintf("  %s (%s)", entry.ActivityID, entry.ActivityType)
		}
		if entry.Message != "" {
			line += "  " + entry.Message
		}
		fmt.Println(line)
	}
	return nil
}

func deleteCommand(args []string) error {
	config := &Config{}
	fs, _ := newFlagSet("delete", config)
	fs.StringVar(&config.InstanceID, "id", "", "Instance to delete (required)")
	_ = fs.Parse(args)
	if config.InstanceID == "" {
		return fmt.Errorf("delete requires -id")
	}
	ctx := context.Background()
	store, closer, err := openStore(ctx, config.Store)
	if err != nil {
		return err
	}
	defer closer()
	if err := store.DeleteInstance(ctx, config.InstanceID); err != nil {
		return err
	}
	color.Green("Deleted %s", config.InstanceID)
	return nil
}

func loadWorkflow(config *Config) (*flow.Workflow, error) {
	if config.WorkflowFile == "" {
		return nil, fmt.Errorf("workflow file is required (-f)")
	}
	if _, err := os.Stat(config.WorkflowFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("workflow file '%s' not found", config.WorkflowFile)
	}
	return flow.LoadFile(config.WorkflowFile)
}

func newEngine(config *Config, wf *flow.Workflow) (*flow.Engine, func(), error) {
	ctx := context.Background()
	store, closer, err := openStore(ctx, config.Store)
	if err != nil {
		return nil, nil, err
	}
	var sink flow.ExecutionLogSink = flow.NewNullExecutionLogSink()
	if config.LogsDir != "" {
		if err := os.MkdirAll(config.LogsDir, 0755); err != nil {
			closer()
			return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
		}
		sink = flow.NewFileExecutionLogSink(config.LogsDir)
		color.Blue("Execution logs: %s", config.LogsDir)
	}
	var callbacks []flow.ExecutionCallbacks
	release := closer
	if config.MetricsFile != "" {
		registry := prometheus.NewRegistry()
		callbacks = append(callbacks, metrics.NewCollector(registry))
		release = func() {
			// Textfile format, for node_exporter's textfile collector
			if err := prometheus.WriteToTextfile(config.MetricsFile, registry); err != nil {
				color.Red("Failed to write metrics: %v", err)
			}
			closer()
		}
	}
	engine, err := flow.NewEngine(flow.EngineOptions{
		Workflows:          []*flow.Workflow{wf},
		Activities:         activities.All(os.Stdout),
		Store:              store,
		LogSink:            sink,
		Logger:             setupLogger(config),
		ExecutionCallbacks: flow.NewCallbackChain(callbacks...),
	})
	if err != nil {
		closer()
		return nil, nil, err
	}
	return engine, release, nil
}

func passContext(config *Config) (context.Context, context.CancelFunc) {
	if config.Timeout > 0 {
		color.Yellow("Timeout: %v", config.Timeout)
		return context.WithTimeout(context.Background(), config.Timeout)
	}
	return context.WithCancel(context.Background())
}

func setupLogger(config *Config) *slog.Logger {
	if !config.Verbose {
		return flow.NewDiscardLogger()
	}
	return flow.NewLogger(flow.LoggerOptions{
		Level:  slog.LevelDebug,
		Format: flow.LogFormat(config.LogFormat),
	})
}

func showResult(result *flow.RunResult, duration time.Duration, config *Config) error {
	if config.JSON {
		return printJSON(result.Context.Snapshot().Summary())
	}
	color.White("Instance: %s", result.InstanceID)
	color.White("Pass completed in %v", duration)
	fmt.Printf("Status: %s\n", statusColor(result.Status)(string(result.Status)))

	switch result.Status {
	case flow.WorkflowStatusFinished:
		color.Green("Workflow finished!")
	case flow.WorkflowStatusSuspended:
		color.Yellow("Waiting on:")
		for _, b := range result.Bookmarks {
			fmt.Printf("  payload=%s  activity=%s\n", b.Payload, b.ActivityID)
		}
	}

	variables := result.Context.Variables()
	if len(variables) > 0 {
		fmt.Printf("\n")
		color.Magenta("Variables:")
		for key, value := range variables {
			fmt.Printf("  %s: %s\n", key, formatValue(value))
		}
	}
	if result.Status == flow.WorkflowStatusFaulted {
		return fmt.Errorf("workflow faulted: %w", result.Error)
	}
	return nil
}

func statusColor(status flow.WorkflowStatus) func(a ...any) string {
	switch status {
	case flow.WorkflowStatusFinished:
		return color.New(color.FgGreen).SprintFunc()
	case flow.WorkflowStatusSuspended:
		return color.New(color.FgYellow).SprintFunc()
	case flow.WorkflowStatusFaulted:
		return color.New(color.FgRed).SprintFunc()
	}
	return color.New(color.FgWhite).SprintFunc()
}

func formatValue(value any) string {
	if data, err := json.Marshal(value); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", value)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// parseValues turns key=value flags into a map. Values are parsed as JSON
// when possible.
func parseValues(pairs []string) (map[string]any, error) {
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid format '%s'. Use key=value", pair)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		values[key] = parsed
	}
	return values, nil
}

// Custom flag type for handling repeated key=value flags
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}
