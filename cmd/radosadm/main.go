// radosadm is a diagnostics tool for daemon admin sockets. It speaks the
// length-prefixed JSON protocol directly, so it works against any daemon
// exposing an admin socket, with no cluster connection required.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gorados/gorados/pkg/admin"
	"github.com/gorados/gorados/pkg/log"
	"github.com/gorados/gorados/pkg/retry"
)

var (
	socketPath string
	timeout    time.Duration
	logLevel   string
	rawOutput  bool
	retries    int
)

func main() {
	root := &cobra.Command{
		Use:   "radosadm",
		Short: "Query daemon admin sockets",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: false})
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "", "path to the daemon admin socket")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "exchange timeout")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&rawOutput, "raw", false, "print responses without re-indenting")
	root.PersistentFlags().IntVar(&retries, "retries", 1, "attempts per command; transient failures are retried with backoff")

	root.AddCommand(execCmd(), rawCmd(), commandsCmd(), versionCmd(), perfCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func client(cmd *cobra.Command) (*admin.Client, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("--socket is required")
	}
	return admin.NewClient(socketPath,
		admin.WithTimeout(timeout),
		admin.WithLogger(log.WithComponent("admin")),
	), nil
}

// do runs one command body against the socket, retrying transient failures
// (unreachable socket, exchange timeout) when --retries allows.
func do(c *admin.Client, req map[string]any) ([]byte, error) {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = retries
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		lg := log.WithComponent("admin")
		lg.Warn().Err(err).
			Int("attempt", attempt).Dur("backoff", delay).
			Msg("admin command failed, retrying")
	}

	var out []byte
	err := retry.New(cfg).DoWithContext(context.Background(), func(ctx context.Context) error {
		var err error
		out, err = c.Do(ctx, req)
		return err
	})
	return out, err
}

func printResponse(out []byte) error {
	if rawOutput {
		fmt.Println(string(out))
		return nil
	}
	var decoded any
	if err := json.Unmarshal(out, &decoded); err != nil {
		// Not JSON; print as-is.
		fmt.Println(string(out))
		return nil
	}
	pretty, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <prefix>",
		Short: "Run a single-prefix command (e.g. help, mon_status)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			out, err := do(c, map[string]any{"prefix": args[0]})
			if err != nil {
				return err
			}
			return printResponse(out)
		},
	}
}

func rawCmd() *cobra.Command {
	var daemon string
	cmd := &cobra.Command{
		Use:   "raw <json>",
		Short: "Send a raw JSON command body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req map[string]any
			if err := json.Unmarshal([]byte(args[0]), &req); err != nil {
				return fmt.Errorf("command body is not JSON: %w", err)
			}
			if daemon != "" {
				schema, err := admin.LoadSchema(daemon)
				if err != nil {
					return err
				}
				if err := schema.Validate(req); err != nil {
					return err
				}
			}
			c, err := client(cmd)
			if err != nil {
				return err
			}
			out, err := do(c, req)
			if err != nil {
				return err
			}
			return printResponse(out)
		},
	}
	cmd.Flags().StringVar(&daemon, "daemon", "", "validate against a daemon schema before sending (mon, osd, client)")
	return cmd
}

func commandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands <daemon>",
		Short: "List known commands for a daemon type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := admin.LoadSchema(args[0])
			if err != nil {
				return fmt.Errorf("known daemon types are %v: %w", admin.Daemons(), err)
			}
			fmt.Print(schema.HelpText())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Report the daemon's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			out, err := do(c, map[string]any{"prefix": "version"})
			if err != nil {
				return err
			}
			return printResponse(out)
		},
	}
}

func perfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "perf",
		Short: "Dump the daemon's perf counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			out, err := do(c, map[string]any{"prefix": "perf dump"})
			if err != nil {
				return err
			}
			return printResponse(out)
		},
	}
}
