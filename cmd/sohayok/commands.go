package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
	"github.com/bdobrica/Sohayok/internal/sohayok/app"
	"github.com/bdobrica/Sohayok/internal/sohayok/server"
)

// withApp builds the container, runs fn and shuts every service down.
func withApp(configPath string, fn func(ctx context.Context, di *do.Injector) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	di, err := newContainer(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := di.Shutdown(); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}()
	return fn(ctx, di)
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Answer JSON-lines commands on stdin until EOF",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(*configPath, func(ctx context.Context, di *do.Injector) error {
				a, err := do.Invoke[*app.App](di)
				if err != nil {
					return err
				}
				srv := do.MustInvoke[*server.Server](di)

				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return a.Run(gctx) })
				g.Go(func() error {
					defer cancel()
					return srv.Serve(gctx, cmd.InOrStdin(), cmd.OutOrStdout())
				})
				slog.Info("sohayok: serving on stdin")
				return g.Wait()
			})
		},
	}
}

func newReplayCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <file>",
		Short: "Ingest a JSON-lines interaction log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			events, err := readEvents(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			return withApp(*configPath, func(ctx context.Context, di *do.Injector) error {
				a, err := do.Invoke[*app.App](di)
				if err != nil {
					return err
				}
				n, err := a.Ingest(ctx, events)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events\n", n)
				return err
			})
		},
	}
}

// readEvents parses and validates every line before anything is stored.
func readEvents(r io.Reader) ([]interaction.Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var events []interaction.Event
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		evt, err := interaction.ParseEvent(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		events = append(events, *evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func newAnalyticsCmd(configPath *string) *cobra.Command {
	var userID string
	var days int
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Print the analytics summary of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(*configPath, func(ctx context.Context, di *do.Injector) error {
				a, err := do.Invoke[*app.App](di)
				if err != nil {
					return err
				}
				summary, ok, err := a.Analytics(ctx, userID)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no progress recorded for user %q", userID)
				}
				return printJSON(cmd.OutOrStdout(), struct {
					Summary    any `json:"summary"`
					RecentDays any `json:"recent_days"`
				}{summary, summary.RecentDays(days)})
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().IntVar(&days, "days", 30, "most recent active days to list (0 for all)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newExportCmd(configPath *string) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the events, progress and analytics of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(*configPath, func(ctx context.Context, di *do.Injector) error {
				a, err := do.Invoke[*app.App](di)
				if err != nil {
					return err
				}
				exp, err := a.Export(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), exp)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
