//go:build linux

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/isobox/isobox/box"
	"github.com/isobox/isobox/internal/resolver"
	"github.com/isobox/isobox/logger"
	"github.com/isobox/isobox/version"
)

// Application entry point. Dispatches to the hidden __init subcommand
// when re-exec'd as a sandboxed child's pre-exec helper, otherwise runs
// the ordinary front end.
func main() {
	if len(os.Args) > 1 && os.Args[1] == initArg {
		runInit()
		return
	}

	if err := run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "isobox:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	engine := box.NewDefaultEngine()

	cmd := &cli.Command{
		Name:    "isobox",
		Usage:   "Isolated, resource-bounded sandboxes for running untrusted code.",
		Version: version.Version(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Log verbosity (debug|info|warn|error)"},
			&cli.StringFlag{Name: "log-format", Value: "text", Usage: "Log format (text|json)"},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			level, err := parseLogLevel(c.String("log-level"))
			if err != nil {
				return ctx, err
			}
			format, err := parseLogFormat(c.String("log-format"))
			if err != nil {
				return ctx, err
			}
			logger.CreateLogger(&logger.LoggerOpts{LogLevel: level, LogFormat: format})
			return ctx, nil
		},
		Commands: []*cli.Command{
			initCommand(engine),
			runCommand(engine),
			executeSourceCommand(engine),
			cleanupCommand(engine),
			listCommand(engine),
		},
	}

	return cmd.Run(ctx, args)
}

func initCommand(engine *box.Engine) *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "Create and register a sandbox instance",
		ArgsUsage: "<instance-id>",
		Flags:     isolateFlags,
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().First()
			if id == "" {
				return fmt.Errorf("missing <instance-id>")
			}
			cfg, err := buildIsolateConfig(c)
			if err != nil {
				return err
			}
			if cfg.WorkDir == "" {
				return fmt.Errorf("--workdir is required")
			}
			return engine.Init(id, cfg)
		},
	}
}

func runCommand(engine *box.Engine) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute a command inside an initialized instance",
		ArgsUsage: "<instance-id> -- <command> [args...]",
		Flags:     overrideFlags,
		Action: func(ctx context.Context, c *cli.Command) error {
			argv := c.Args().Slice()
			if len(argv) == 0 {
				return fmt.Errorf("missing <instance-id>")
			}
			id := argv[0]
			cmdArgv := argv[1:]
			if len(cmdArgv) == 0 {
				return fmt.Errorf("missing command; usage: isobox run <instance-id> -- command [args...]")
			}
			overrides, err := parseOverrides(c)
			if err != nil {
				return err
			}
			stdin, err := readStdinIfPiped()
			if err != nil {
				return err
			}
			requestID := uuid.New().String()
			logger.Log.Info("run starting", slog.String("instance_id", id), slog.String("request_id", requestID))
			result, err := engine.Run(ctx, id, cmdArgv, stdin, overrides)
			if err != nil {
				return err
			}
			logger.Log.Info("run finished", slog.String("instance_id", id), slog.String("request_id", requestID), slog.String("status", string(result.Status)))
			return emitResult(result)
		},
	}
}

func executeSourceCommand(engine *box.Engine) *cli.Command {
	return &cli.Command{
		Name:      "execute-source",
		Usage:     "Copy a source file into an instance and execute it via the language profile resolver",
		ArgsUsage: "<instance-id> <source-path>",
		Flags:     overrideFlags,
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().Get(0)
			src := c.Args().Get(1)
			if id == "" || src == "" {
				return fmt.Errorf("usage: isobox execute-source <instance-id> <source-path>")
			}
			overrides, err := parseOverrides(c)
			if err != nil {
				return err
			}
			stdin, err := readStdinIfPiped()
			if err != nil {
				return err
			}
			requestID := uuid.New().String()
			logger.Log.Info("execute-source starting", slog.String("instance_id", id), slog.String("request_id", requestID), slog.String("source", src))
			result, err := engine.ExecuteSource(ctx, id, src, stdin, overrides, resolver.Resolve)
			if err != nil {
				return err
			}
			logger.Log.Info("execute-source finished", slog.String("instance_id", id), slog.String("request_id", requestID), slog.String("status", string(result.Status)))
			return emitResult(result)
		},
	}
}

func cleanupCommand(engine *box.Engine) *cli.Command {
	return &cli.Command{
		Name:      "cleanup",
		Usage:     "Tear down one instance, or every registered instance",
		ArgsUsage: "[instance-id]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "Clean up every registered instance"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Bool("all") {
				return engine.Cleanup(box.CleanupTarget{All: true})
			}
			id := c.Args().First()
			if id == "" {
				return fmt.Errorf("missing <instance-id> (or pass --all)")
			}
			return engine.Cleanup(box.CleanupTarget{InstanceID: id})
		},
	}
}

func listCommand(engine *box.Engine) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List registered instances",
		Action: func(ctx context.Context, c *cli.Command) error {
			summaries, err := engine.List()
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(summaries)
		},
	}
}

func emitResult(result interface{}) error {
	return json.NewEncoder(os.Stdout).Encode(result)
}

func readStdinIfPiped() ([]byte, error) {
	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return nil, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown --log-level: %s", s)
	}
}

func parseLogFormat(s string) (logger.LogFormat, error) {
	switch s {
	case "text":
		return logger.LogText, nil
	case "json":
		return logger.LogJSON, nil
	default:
		return 0, fmt.Errorf("unknown --log-format: %s", s)
	}
}
