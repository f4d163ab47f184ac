package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mitchelldurbincs/GridworldDP/internal/config"
	"github.com/mitchelldurbincs/GridworldDP/internal/mdp/events"
	"github.com/mitchelldurbincs/GridworldDP/internal/mdp/events/subscribers"
	"github.com/mitchelldurbincs/GridworldDP/internal/mdp/solver"
	"github.com/mitchelldurbincs/GridworldDP/internal/render"
	"github.com/mitchelldurbincs/GridworldDP/internal/world"
)

const progressInterval = 100 * time.Millisecond

// solveConfigured builds the configured world, solves it and writes the
// configured outputs.
func solveConfigured(cmd *cobra.Command, o *rootOptions) error {
	cfg := config.Get()

	w, err := world.New(cfg.World)
	if err != nil {
		return err
	}
	alg, opts, err := world.Options(cfg.Solver)
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	if o.progress {
		bus.Subscribe(subscribers.NewProgressSubscriber("progress", cmd.ErrOrStderr(), progressInterval))
	}
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		eventLog := subscribers.NewLoggerSubscriber("event-log", log.Logger, zerolog.DebugLevel)
		eventLog.SetEventFilter([]string{events.TypePolicyImproved, events.TypePhaseTransition})
		bus.Subscribe(eventLog)
	}

	s, err := solver.NewSolver(w, opts, solver.WithEventBus(bus), solver.WithLogger(log.Logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := s.Solve(ctx, alg); err != nil {
		return err
	}

	title := fmt.Sprintf("%s %s (%s)", cfg.World.Kind, sizeLabel(w), alg)
	if err := writeOutputs(cmd.OutOrStdout(), cfg.Render, o.color, title, w, s); err != nil {
		return err
	}

	if o.verify {
		return verify(cmd.OutOrStdout(), w, s)
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func sizeLabel(w world.World) string {
	return fmt.Sprintf("%dx%d", w.Width(), w.Height())
}

func writeOutputs(out io.Writer, rc config.RenderConfig, color bool, title string, w world.World, s *solver.Solver) error {
	for _, format := range rc.Formats {
		switch format {
		case config.FormatConsole:
			console := render.NewConsole(color)
			fmt.Fprintln(out, title)
			if err := console.Values(out, w, s.Values()); err != nil {
				return err
			}
			fmt.Fprintln(out)
			if err := console.Policy(out, w, s.Policy()); err != nil {
				return err
			}

		case config.FormatPNG:
			path, err := outputPath(rc.OutputDir, "values.png")
			if err != nil {
				return err
			}
			if err := render.SaveHeatmapPNG(path, title, w, s.Values(), s.Policy()); err != nil {
				return err
			}
			log.Info().Str("path", path).Msg("Wrote heat map")

		case config.FormatHTML:
			path, err := outputPath(rc.OutputDir, "values.html")
			if err != nil {
				return err
			}
			if err := writeHTML(path, title, w, s); err != nil {
				return err
			}
			log.Info().Str("path", path).Msg("Wrote heat map page")
		}
	}
	return nil
}

func outputPath(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	return filepath.Join(dir, name), nil
}

func writeHTML(path, title string, w world.World, s *solver.Solver) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return render.WriteHeatmapHTML(f, title, w, s.Values())
}

// verify solves the final policy's linear system and reports how far the
// iterative values are from it.
func verify(out io.Writer, w world.World, s *solver.Solver) error {
	exact, err := solver.ExactEvaluate(w, s.Policy(), s.Options().Discount)
	if err != nil {
		return fmt.Errorf("exact evaluation: %w", err)
	}
	gap := s.Values().MaxAbsDiff(exact)
	log.Info().Float64("max_gap", gap).Msg("Verified against exact evaluation")
	fmt.Fprintf(out, "max gap to exact evaluation: %.3g\n", gap)
	return nil
}
