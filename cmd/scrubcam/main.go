// ScrubCam field camera device.
//
// Reads its configuration from a YAML file given as the positional argument:
//
//	scrubcam cfgs/config.yaml
//
// The optional -c/--continue flag tells the remote collector that this run
// continues a previous session.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/icr-ctl/scrubcam/internal/app"
	"github.com/icr-ctl/scrubcam/internal/config"
	"github.com/icr-ctl/scrubcam/internal/logger"
)

func main() {
	var continueRun bool
	flag.BoolVar(&continueRun, "c", false, "continue a previous session")
	flag.BoolVar(&continueRun, "continue", false, "continue a previous session")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-c|--continue] CONFIG_FILE\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	// Optional .env beside the binary supplies SCRUBCAM_* overrides.
	godotenv.Load()

	cfg, err := config.Load(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrubcam: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogDirectory)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, config.RunMode{Continue: continueRun}, log)
	if err != nil {
		log.Error("Startup failed: %v", err)
		os.Exit(1)
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		log.Error("Run failed: %v", err)
		application.Close()
		os.Exit(1)
	}
}
