package main

import (
	"flag"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mitchelldurbincs/GridworldDP/internal/config"
	"github.com/mitchelldurbincs/GridworldDP/internal/ui"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	watch := flag.Bool("watch", true, "Reload the world when the config file changes")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if err := config.Init(*configPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	cfg := config.Get()
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && cfg.Logging.Level != "" {
		zerolog.SetGlobalLevel(level)
	}

	viewer, err := ui.NewViewer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build world")
	}

	if *watch && config.ConfigFilePath() != "" {
		config.WatchConfig(func(c *config.Config, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Ignoring invalid config change")
				return
			}
			log.Info().Str("file", config.ConfigFilePath()).Msg("Config changed, reloading world")
			viewer.Reload(c)
		})
	}

	ebiten.SetWindowSize(cfg.UI.Window.Width, cfg.UI.Window.Height)
	ebiten.SetWindowTitle(cfg.UI.Window.Title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	if err := ebiten.RunGame(viewer); err != nil {
		log.Fatal().Err(err).Msg("Viewer exited")
	}
}
