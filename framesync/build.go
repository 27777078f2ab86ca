package framesync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/artsync/framesync/internal/acquire"
	"github.com/hazyhaar/artsync/framesync/internal/artstore"
	"github.com/hazyhaar/artsync/framesync/internal/config"
	"github.com/hazyhaar/artsync/framesync/internal/device"
	"github.com/hazyhaar/artsync/framesync/internal/device/artbridge"
	"github.com/hazyhaar/artsync/framesync/internal/history"
	"github.com/hazyhaar/artsync/framesync/internal/render"
	"github.com/hazyhaar/artsync/framesync/internal/status"
	"github.com/hazyhaar/artsync/framesync/internal/telemetry"
)

// Config is the daemon configuration.
type Config = config.Config

// LoadConfig reads the optional YAML file at path, overlays the environment
// and validates the result. Errors are *config.ConfigError.
func LoadConfig(path string, lookup func(string) (string, bool)) (*Config, error) {
	return config.Load(path, lookup)
}

// Build wires a Service from the configuration: renderer, acquirer, artifact
// store, display bridge, telemetry and history. Telemetry that cannot
// reach its broker yet is not fatal; the client keeps retrying.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var closers []func() error
	fail := func(err error) (*Service, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	store := artstore.New(cfg.ArtFile, logger)
	if err := store.Load(); err != nil {
		logger.Warn("framesync: previous artifact not restored", "error", err)
	}

	renderer := render.New(render.Config{
		Bin:       cfg.Render.BrowserBin,
		RemoteURL: cfg.Render.BrowserRemote,
		Stealth:   cfg.Render.Stealth,
		Logger:    logger,
	})
	closers = append(closers, renderer.Close)

	acq := acquire.New(renderer, acquire.WithTimeout(cfg.Source.FetchTimeout), acquire.WithLogger(logger))

	opts := Options{
		Source: acquire.Request{
			URL: cfg.Source.URL,
			Auth: acquire.Auth{
				Mode:        cfg.Source.AuthType,
				Token:       cfg.Source.Token,
				TokenHeader: cfg.Source.TokenHeader,
				TokenPrefix: cfg.Source.TokenPrefix,
				Username:    cfg.Source.Username,
				Password:    cfg.Source.Password,
				Headers:     cfg.Source.Headers,
			},
			Render: render.Request{
				Width:    cfg.Render.Width,
				Height:   cfg.Render.Height,
				Scale:    cfg.Render.Scale,
				Zoom:     cfg.Render.Zoom,
				Timeout:  cfg.Render.Timeout,
				Settle:   cfg.Render.Settle,
				FullPage: cfg.Render.Capture == "full_page",
				Format:   cfg.Render.Format,
				Quality:  cfg.Render.Quality,
			},
		},
		Acquirer:            acq,
		Store:               store,
		Matte:               cfg.Device.Matte,
		Show:                cfg.Device.ShowAfterUpload,
		SkipNavigation:      cfg.Render.SkipNavigation,
		Interval:            cfg.Interval,
		ScreensaverDir:      cfg.Screensaver.Dir,
		ScreensaverInterval: cfg.Screensaver.Interval,
		ScreensaverEnabled:  cfg.Screensaver.Enabled,
		Tracker:             status.NewTracker(),
		Logger:              logger,
	}

	if cfg.Device.Enabled() {
		dialer := artbridge.New(artbridge.Config{
			Endpoint:  cfg.Device.BridgeURL,
			Host:      cfg.Device.Host,
			Port:      cfg.Device.Port,
			TokenFile: cfg.Device.TokenFile,
			Logger:    logger,
		})
		opts.Syncer = device.NewSyncer(dialer, device.FileRecords{Path: cfg.Device.LastArtFile, Logger: logger},
			device.WithTimeout(cfg.Device.UploadTimeout),
			device.WithBreaker(cfg.Device.BreakerThreshold, cfg.Device.BreakerReset),
			device.WithLogger(logger),
		)
	} else {
		logger.Warn("framesync: no device configured, artifacts will only be served over http")
	}

	var pub status.Publisher = telemetry.Nop{}
	if cfg.MQTT.Enabled {
		m := telemetry.NewMQTT(telemetry.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Discovery:   cfg.MQTT.Discovery,
			Logger:      logger,
		})
		if err := m.Connect(ctx); err != nil {
			logger.Warn("framesync: mqtt not connected yet", "error", err)
		}
		closers = append(closers, m.Close)
		pub = m
	}
	opts.Reporter = status.NewReporter(pub, cfg.MQTT.TopicPrefix, logger)

	if cfg.HistoryDB != "" {
		h, err := history.Open(cfg.HistoryDB, cfg.HistoryKeep)
		if err != nil {
			return fail(fmt.Errorf("framesync: %w", err))
		}
		closers = append(closers, h.Close)
		opts.History = h
	}

	opts.Closers = closers
	return New(opts), nil
}
