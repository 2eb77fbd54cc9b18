package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmorgan81/novacanvas/internal/canvas"
	"github.com/dmorgan81/novacanvas/internal/config"
	"github.com/dmorgan81/novacanvas/internal/handler"
	"github.com/dmorgan81/novacanvas/internal/inject"
	"github.com/dmorgan81/novacanvas/internal/log"
	"github.com/samber/do"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type generateOptions struct {
	file       string
	output     string
	store      string
	randomSeed bool
	quiet      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, logLevel string

	root := &cobra.Command{
		Use:          "canvasctl",
		Short:        "Generate images with Amazon Nova Canvas and keep every run on disk",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a canvas.yaml config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		return cfg, nil
	}

	root.AddCommand(newGenerateCmd(load))
	root.AddCommand(newValidateCmd())
	return root
}

func newGenerateCmd(load func() (*config.Config, error)) *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Send a generation request and persist the result",
		Example: `  canvasctl generate -f request.json
  canvasctl generate -f request.json --random-seed --output ./runs`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if opts.output != "" {
				cfg.OutputDir = opts.output
			}
			if opts.store != "" {
				cfg.Store = opts.store
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			req, err := readRequest(opts.file, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx := log.NewContext(cmd.Context(), log.New(cmd.ErrOrStderr(), cfg.LogLevel))
			injector := inject.Setup(ctx, cfg)
			defer func() { _ = injector.Shutdown() }()

			h, err := do.Invoke[*handler.Handler](injector)
			if err != nil {
				return err
			}

			out, err := runWithSpinner(ctx, cmd.ErrOrStderr(), opts.quiet, func(ctx context.Context) (handler.Output, error) {
				return h.Handle(ctx, handler.Input{Request: req, RandomSeed: opts.randomSeed})
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "-", "request JSON file, - for stdin")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output root directory (dir store)")
	cmd.Flags().StringVar(&opts.store, "store", "", "where to persist runs: dir or s3")
	cmd.Flags().BoolVar(&opts.randomSeed, "random-seed", false, "replace the request seed with a random one")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not show a spinner")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse a request file and print the payload that would be sent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := readRequest(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			body, err := json.MarshalIndent(req, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "request JSON file, - for stdin")
	return cmd
}

func readRequest(path string, stdin io.Reader) (canvas.Request, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return canvas.Request{}, fmt.Errorf("reading request: %w", err)
	}

	var req canvas.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return canvas.Request{}, fmt.Errorf("parsing request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return canvas.Request{}, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

// runWithSpinner runs fn while a spinner ticks on w.
func runWithSpinner[T any](ctx context.Context, w io.Writer, quiet bool, fn func(context.Context) (T, error)) (T, error) {
	if quiet {
		return fn(ctx)
	}

	bar := progressbar.NewOptions64(
		-1,
		progressbar.OptionSetDescription("Generating images..."),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(10),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case o := <-done:
			_ = bar.Finish()
			return o.v, o.err
		case <-ticker.C:
			_ = bar.Add(1)
		}
	}
}
