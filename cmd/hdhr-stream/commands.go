package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/attaebra/hdhr-stream/internal/interfaces"
	"github.com/attaebra/hdhr-stream/internal/logger"
	"github.com/attaebra/hdhr-stream/internal/media/stream"
	"github.com/attaebra/hdhr-stream/internal/metrics"
	"github.com/attaebra/hdhr-stream/internal/utils"
)

type copyFlags struct {
	output string
}

func (f *copyFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "-", "Output file, - for stdout")
}

type tunerFlags struct {
	tuners  []string
	devices []string
	channel string
	program string
}

func (f *tunerFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.tuners, "tuner", nil, "Candidate tuner as <host>-<index>, in order of preference (repeatable)")
	cmd.Flags().StringSliceVar(&f.devices, "device", nil, "Device host whose tuners are all candidates (repeatable)")
	cmd.Flags().StringVar(&f.channel, "channel", "", "Channel or frequency, optionally with modulation (auto:177000000)")
	cmd.Flags().StringVar(&f.program, "program", "", "Program number to filter")
}

func (f *tunerFlags) candidates() []stream.TunerCandidate {
	out := make([]stream.TunerCandidate, len(f.tuners))
	for i, id := range f.tuners {
		out[i] = stream.TunerCandidate{Identity: id, Channel: f.channel, Program: f.program}
	}
	return out
}

// resolve expands --device hosts into tuner identities using discover.json.
func (f *tunerFlags) resolve(a *app) error {
	for _, host := range f.devices {
		info, err := a.container.Discover(host)
		if err != nil {
			return err
		}
		f.tuners = append(f.tuners, info.TunerIdentities()...)
	}
	f.devices = nil
	return nil
}

func (f *tunerFlags) wanted() bool {
	return len(f.tuners) > 0 || len(f.devices) > 0
}

func (f *tunerFlags) validate(a *app) error {
	if f.channel == "" {
		return errors.New("--channel is required")
	}
	if err := f.resolve(a); err != nil {
		return err
	}
	if len(f.tuners) == 0 {
		return errors.New("at least one --tuner or --device is required")
	}
	return nil
}

func newHTTPCmd(a *app) *cobra.Command {
	var out copyFlags
	cmd := &cobra.Command{
		Use:   "http URL [URL...]",
		Short: "Copy an HTTP stream, falling back to later URLs on failure",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := make([]stream.Source, len(args))
			for i, u := range args {
				sources[i] = stream.Source{URL: u}
			}
			return a.run(cmd.Context(), sources, out.output)
		},
	}
	out.bind(cmd)
	return cmd
}

func newTunerCmd(a *app) *cobra.Command {
	var (
		out     copyFlags
		tuner   tunerFlags
		viaHTTP bool
	)
	cmd := &cobra.Command{
		Use:   "tuner",
		Short: "Lock a free tuner, tune it and copy its stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := tuner.validate(a); err != nil {
				return err
			}
			if viaHTTP {
				url, err := a.container.SelectTunerHTTP(tuner.candidates())
				if err != nil {
					return err
				}
				return a.run(cmd.Context(), []stream.Source{{URL: url}}, out.output)
			}
			return a.run(cmd.Context(), []stream.Source{{Tuners: tuner.candidates()}}, out.output)
		},
	}
	out.bind(cmd)
	tuner.bind(cmd)
	cmd.Flags().BoolVar(&viaHTTP, "http", false, "Stream from the tuner's HTTP endpoint instead of receiving directly")
	return cmd
}

func newOpenCmd(a *app) *cobra.Command {
	var (
		out   copyFlags
		tuner tunerFlags
		urls  []string
	)
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Try recording URLs, then tuner HTTP, then direct tuner reception",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var sources []stream.Source
			for _, u := range urls {
				sources = append(sources, stream.Source{URL: u})
			}
			if tuner.wanted() {
				if err := tuner.validate(a); err != nil {
					return err
				}
				if url, err := a.container.SelectTunerHTTP(tuner.candidates()); err == nil {
					sources = append(sources, stream.Source{URL: url})
				} else {
					logger.Warn("⚠️  No tuner HTTP endpoint available", logger.ErrorField("error", err))
				}
				sources = append(sources, stream.Source{Tuners: tuner.candidates()})
			}
			if len(sources) == 0 {
				return errors.New("give at least one --url or --tuner")
			}
			return a.run(cmd.Context(), sources, out.output)
		},
	}
	out.bind(cmd)
	tuner.bind(cmd)
	cmd.Flags().StringSliceVar(&urls, "url", nil, "Recording URL (repeatable)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "hdhr-stream", version)
		},
	}
}

// run opens the first working source and copies it to output until the
// stream ends or the process is interrupted.
func (a *app) run(parent context.Context, sources []stream.Source, output string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := a.container.Open(sources)
	if err != nil {
		return err
	}
	defer s.Close()

	dst, closeDst, err := openOutput(output)
	if err != nil {
		return err
	}
	defer closeDst()

	var metricsLn net.Listener
	if addr := a.cfg.MetricsAddr; addr != "" {
		if metricsLn, err = net.Listen("tcp", addr); err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
	}

	return copyStream(ctx, dst, s, metricsLn)
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" || path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, func() { utils.CloseWithLogging(f, "output file") }, nil
}

// copyStream runs the copy alongside a progress reporter and, when
// metricsLn is set, a metrics server that lives as long as the copy.
func copyStream(ctx context.Context, dst io.Writer, s interfaces.Stream, metricsLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	done := make(chan struct{})
	var position atomic.Int64

	if metricsLn != nil {
		g.Go(func() error {
			return metrics.Serve(serveCtx, metricsLn)
		})
	}

	g.Go(func() error {
		defer close(done)
		defer stopServing()
		defer utils.TimeOperation("stream copy")()

		n, err := stream.Copy(ctx, dst, s, func() { position.Store(s.Position()) })
		logger.Info("🏁 Copy finished",
			logger.String("copied", humanize.IBytes(uint64(n))),
			logger.Int64("position", s.Position()))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-ticker.C:
				logger.Info("📊 Streaming",
					logger.String("position", humanize.IBytes(uint64(position.Load()))))
			}
		}
	})

	return g.Wait()
}
