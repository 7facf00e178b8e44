package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"supravault/internal/core/app"
	"supravault/internal/core/config"
	"supravault/internal/engine/model"
	"supravault/internal/shared/observability"
	"supravault/internal/shared/util"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const versionString = "0.3.0"

type appFactory func(cfg *config.Config, logger *slog.Logger) (*app.App, error)

type rootOptions struct {
	configPath string
	verbose    bool
	format     string
}

// runtime carries what every subcommand needs; tests swap the writers and
// the app factory.
type runtime struct {
	opts    rootOptions
	out     io.Writer
	errOut  io.Writer
	newApp  appFactory
	cfg     *config.Config
	source  *config.Source
	logger  *slog.Logger
	cleanup []func(context.Context) error
}

// Run executes the CLI and returns the process exit code.
func Run(args []string) int {
	root := NewRootCommand(os.Stdout, os.Stderr, app.New)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func NewRootCommand(out, errOut io.Writer, factory appFactory) *cobra.Command {
	rt := &runtime{out: out, errOut: errOut, newApp: factory}

	root := &cobra.Command{
		Use:           "supravault",
		Short:         "Security posture analysis for Supra fungible assets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return rt.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return rt.teardown()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&rt.opts.configPath, "config", config.DefaultFileName, "path to config file")
	root.PersistentFlags().BoolVarP(&rt.opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&rt.opts.format, "format", "text", "output format: text or json")

	root.AddCommand(
		rt.newScanCmd(),
		rt.newDiffCmd(),
		rt.newHistoryCmd(),
		rt.newServeCmd(),
		newVersionCmd(out),
	)
	return root
}

func (rt *runtime) setup(cmd *cobra.Command) error {
	if rt.opts.format != "text" && rt.opts.format != "json" {
		return fmt.Errorf("--format must be text or json, got %q", rt.opts.format)
	}

	explicit := cmd.Flags().Changed("config")
	cfg, src, err := loadConfig(rt.opts.configPath, explicit)
	if err != nil {
		return err
	}
	rt.cfg = cfg
	rt.source = src
	rt.logger = configureLogging(rt.errOut, cfg.Logging.Level, cfg.Logging.Format, rt.opts.verbose)

	if cfg.Observability.EnableTracing {
		shutdown, err := observability.InitTracing(cmd.Context(), cfg.Observability.OTLPEndpoint, cfg.Observability.OTLPInsecure)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		rt.cleanup = append(rt.cleanup, shutdown)
	}
	return nil
}

func (rt *runtime) teardown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var first error
	for i := len(rt.cleanup) - 1; i >= 0; i-- {
		if err := rt.cleanup[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	rt.cleanup = nil
	return first
}

// loadConfig reads path when it exists. A missing default file falls back to
// built-in defaults; a missing explicit file is an error.
func loadConfig(path string, explicit bool) (*config.Config, *config.Source, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			cfg, err := config.Parse(nil)
			return cfg, nil, err
		}
		return nil, nil, fmt.Errorf("config %q: %w", path, err)
	}
	src, err := config.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return src.Config(), src, nil
}

func (rt *runtime) openApp() (*app.App, error) {
	a, err := rt.newApp(rt.cfg, rt.logger)
	if err != nil {
		return nil, err
	}
	rt.cleanup = append(rt.cleanup, a.Close)
	return a, nil
}

func parseKind(raw string) (model.AssetKind, error) {
	kind, ok := model.ParseAssetKind(raw)
	if !ok {
		return "", fmt.Errorf("asset kind must be coin or fa, got %q", raw)
	}
	return kind, nil
}

func (rt *runtime) writeJSON(v any) error {
	enc := json.NewEncoder(rt.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (rt *runtime) newScanCmd() *cobra.Command {
	var (
		sample  bool
		probes  []string
		limit   int
		outPath string
		persist bool
		doDiff  bool
	)
	cmd := &cobra.Command{
		Use:   "scan <coin|fa> <asset-id>",
		Short: "Build a security snapshot of one asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			a, err := rt.openApp()
			if err != nil {
				return err
			}
			req := app.ScanRequest{
				Kind:           kind,
				AssetID:        args[1],
				SampleBehavior: sample,
				ProbeAddresses: probes,
				SampleLimit:    limit,
				Persist:        persist,
			}

			ctx := cmd.Context()
			if doDiff {
				res, err := a.ScanAndDiff(ctx, req)
				if err != nil {
					return err
				}
				if err := rt.writeSnapshotFile(outPath, res.Scan.Payload); err != nil {
					return err
				}
				if rt.opts.format == "json" {
					return rt.writeJSON(res.Report)
				}
				if err := RenderScan(rt.out, res.Scan); err != nil {
					return err
				}
				return RenderDiff(rt.out, res.Report)
			}

			res, err := a.Scan(ctx, req)
			if err != nil {
				return err
			}
			if err := rt.writeSnapshotFile(outPath, res.Payload); err != nil {
				return err
			}
			if rt.opts.format == "json" {
				if outPath != "" {
					return rt.writeJSON(res.Risk)
				}
				_, err := rt.out.Write(res.Payload)
				return err
			}
			return RenderScan(rt.out, res)
		},
	}
	cmd.Flags().BoolVar(&sample, "sample", false, "sample recent transactions for behavior evidence")
	cmd.Flags().StringSliceVar(&probes, "probe", nil, "extra addresses to sample (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "transaction sample size (0 = config default)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the snapshot JSON to this file")
	cmd.Flags().BoolVar(&persist, "persist", true, "store the snapshot in history when db is enabled")
	cmd.Flags().BoolVar(&doDiff, "diff", false, "diff against the latest stored snapshot and store the result")
	return cmd
}

func (rt *runtime) writeSnapshotFile(path string, payload []byte) error {
	if path == "" {
		return nil
	}
	if err := util.WriteFileWithDirs(path, payload, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	rt.logger.Info("snapshot written", "path", path)
	return nil
}

func (rt *runtime) newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <previous.json> <current.json>",
		Short: "Compare two stored snapshots of the same asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prev, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			cur, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			a, err := rt.openApp()
			if err != nil {
				return err
			}
			report, err := a.DiffPayloads(cmd.Context(), prev, cur)
			if err != nil {
				return err
			}
			if rt.opts.format == "json" {
				return rt.writeJSON(report)
			}
			return RenderDiff(rt.out, report)
		},
	}
}

func (rt *runtime) newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <coin|fa> <asset-id>",
		Short: "List stored diffs for an asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			a, err := rt.openApp()
			if err != nil {
				return err
			}
			records, err := a.History(cmd.Context(), kind, args[1], limit)
			if err != nil {
				return err
			}
			if rt.opts.format == "json" {
				return rt.writeJSON(records)
			}
			return RenderHistory(rt.out, records)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum diffs to list")
	return cmd
}

func (rt *runtime) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /metrics and /health until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.openApp()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = rt.cfg.Observability.Address
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := NewObservabilityServer(addr, app.NewHealthService(a), rt.cfg.Observability.EnableMetrics)
			if err := srv.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(rt.errOut, "serving on %s\n", srv.Addr())

			if rt.source != nil {
				go func() {
					if err := rt.source.Notify(ctx); err != nil {
						rt.logger.Warn("config watch disabled", "error", err)
					}
				}()
			}
			rt.watchConfig(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default observability.address)")
	return cmd
}

// watchConfig blocks until ctx is done, logging config edits as they are
// picked up. Running components keep the config they were built with.
func (rt *runtime) watchConfig(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rt.source == nil {
				continue
			}
			_, reloaded, err := rt.source.ReloadIfChanged()
			if err != nil {
				rt.logger.Warn("config reload failed", "path", rt.source.Path(), "error", err)
				continue
			}
			if reloaded {
				rt.logger.Info("config changed on disk; restart serve to apply", "path", rt.source.Path())
			}
		}
	}
}

func newVersionCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "supravault v%s\n", versionString)
		},
	}
}
