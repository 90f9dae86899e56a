package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/jveski/airlift/internal/bootstrap"
	"github.com/jveski/airlift/internal/config"
	"github.com/jveski/airlift/internal/poll"
)

const (
	exitError   = 1
	exitTimeout = 2
)

func main() {
	app := &cli.App{
		Name:  "airlift",
		Usage: "Bootstrap a single-node Kubernetes control plane from an offline bundle",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "bundle",
				Aliases: []string{"b"},
				Usage:   "directory holding the `packages/, images/, manifests/ and keys/` of the offline bundle",
				Value:   ".",
				EnvVars: []string{"AIRLIFT_BUNDLE"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "optional TOML file overriding the default settings",
				EnvVars: []string{"AIRLIFT_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "do not ask for confirmation before provisioning",
				EnvVars: []string{"AIRLIFT_ASSUME_YES"},
			},
			&cli.StringSliceFlag{
				Name:  "skip-phase",
				Usage: "skip a phase (" + strings.Join(bootstrap.Phases, ", ") + "), may be repeated",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "one of debug, info, warn, error",
				Value:   "info",
				EnvVars: []string{"AIRLIFT_LOG_LEVEL"},
			},
		},
		Action: run,
	}

	err := app.Run(os.Args)
	if err == nil {
		return
	}

	fmt.Fprint(os.Stderr, getErrorString(err))
	os.Exit(exitCode(err))
}

func run(c *cli.Context) error {
	log, err := newLogger(c.String("log-level"))
	if err != nil {
		return err
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("bundle") || cfg.Bundle.Dir == "" {
		cfg.Bundle.Dir = c.String("bundle")
	}

	skip := map[string]bool{}
	for _, phase := range c.StringSlice("skip-phase") {
		if !isPhase(phase) {
			return fmt.Errorf("unknown phase %q", phase)
		}
		skip[phase] = true
	}

	b := bootstrap.New(cfg, log)
	b.AssumeYes = c.Bool("yes")
	b.Skip = skip
	return b.Run(c.Context)
}

func newLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
	log.SetLevel(lvl)
	return log, nil
}

func isPhase(name string) bool {
	for _, p := range bootstrap.Phases {
		if p == name {
			return true
		}
	}
	return false
}

func exitCode(err error) int {
	if errors.Is(err, poll.ErrTimeout) {
		return exitTimeout
	}
	return exitError
}

func getErrorString(err error) string {
	if errors.Is(err, bootstrap.ErrAborted) {
		return "Aborted, no changes were made.\n"
	}

	if errors.Is(err, poll.ErrTimeout) {
		return fmt.Sprintf("A dependency never became ready: %s\n", err)
	}

	ie := &bootstrap.InstallError{}
	if errors.As(err, &ie) {
		return fmt.Sprintf("Package installation failed. These packages are still not installed:\n\n  %s\n\nerror: %s\n", strings.Join(ie.Missing, "\n  "), err)
	}

	ime := &bootstrap.ImportError{}
	if errors.As(err, &ime) {
		return fmt.Sprintf("Control plane initialization was skipped because these image archives could not be imported:\n\n  %s\n\nRe-run once the archives are fixed.\n", strings.Join(ime.Archives, "\n  "))
	}

	return fmt.Sprintf("error: %s\n", err)
}
