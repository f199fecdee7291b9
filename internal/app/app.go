// Package app wires the field camera's collaborators together and hands them
// to the dispatch loop.
package app

import (
	"context"
	"fmt"

	"github.com/icr-ctl/scrubcam/internal/archive"
	"github.com/icr-ctl/scrubcam/internal/camera"
	"github.com/icr-ctl/scrubcam/internal/config"
	"github.com/icr-ctl/scrubcam/internal/dispatch"
	"github.com/icr-ctl/scrubcam/internal/display"
	"github.com/icr-ctl/scrubcam/internal/logger"
	"github.com/icr-ctl/scrubcam/internal/lora"
	"github.com/icr-ctl/scrubcam/internal/networking"
	"github.com/icr-ctl/scrubcam/internal/sightings"
	"github.com/icr-ctl/scrubcam/internal/vision"
)

// App owns the constructed collaborators and the dispatch loop.
type App struct {
	config  *config.Config
	logger  *logger.Logger
	loop    *dispatch.Loop
	closers []func()
}

// New constructs every configured collaborator. Optional ones (radio,
// collector, display) are only built when their flag is on; the loop receives
// nil for the absent ones.
func New(cfg *config.Config, mode config.RunMode, log *logger.Logger) (*App, error) {
	a := &App{config: cfg, logger: log}

	deps := dispatch.Deps{
		Logger:    log,
		Sightings: sightings.New(cfg.SightingLogPath),
	}

	if cfg.LoraOn {
		sender, err := lora.NewSender(cfg.LoraSPIPort, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { sender.Close() })
		deps.Radio = sender
	} else {
		log.Info("LoRa is ***DISABLED***")
	}

	detector, err := vision.NewDetector(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { detector.Close() })
	deps.Detector = detector

	arch, err := archive.Open(cfg.ArchiveDBPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { arch.Close() })
	detector.AttachRecorder(arch)

	capture, err := camera.Open(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { capture.Close() })
	deps.Source = capture

	if cfg.ConnectRemoteServer {
		log.Info("Connecting to server enabled")
		socket, err := networking.Dial(cfg.ServerAddr, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := socket.SendHostConfigs(cfg.FilterClasses, mode.Continue); err != nil {
			socket.Close()
			a.Close()
			return nil, fmt.Errorf("host config handshake: %w", err)
		}
		// The loop owns the connection from here on and closes it on
		// shutdown; no closer registered.
		deps.Collector = socket
	} else {
		log.Info("Connecting to remote server is ***DISABLED***")
	}

	if !cfg.Headless {
		d := display.New(log)
		a.closers = append(a.closers, func() { d.Close() })
		deps.Display = d
	}

	a.loop = dispatch.New(cfg, deps)
	return a, nil
}

// Run blocks in the dispatch loop until ctx is cancelled or a collaborator
// fails.
func (a *App) Run(ctx context.Context) error {
	return a.loop.Run(ctx)
}

// Close releases every collaborator built so far, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
