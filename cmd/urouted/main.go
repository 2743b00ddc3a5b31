package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/urouted/urouted/common/logging"
	"github.com/urouted/urouted/common/xcmd"
	"github.com/urouted/urouted/router"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
	// ReceiveInterface overrides the port 0 interface name.
	ReceiveInterface string
	// SendInterface overrides the port 1 interface name.
	SendInterface string
	// NextHop overrides the upstream router address.
	NextHop string
	// Debug forces debug-level logging.
	Debug bool
}

var rootCmd = &cobra.Command{
	Use:   "urouted",
	Short: "User-space two-port IPv4 router on raw sockets",
	Run: func(rawCmd *cobra.Command, _ []string) {
		if err := run(cmd); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file")
	flags.StringVarP(&cmd.ReceiveInterface, "receive", "r", "", "Receiving interface (port 0)")
	flags.StringVarP(&cmd.SendInterface, "send", "s", "", "Sending interface (port 1)")
	flags.StringVarP(&cmd.NextHop, "next-hop", "n", "", "Next hop router IPv4 address")
	flags.BoolVarP(&cmd.Debug, "debug", "d", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	cfg := router.DefaultConfig()
	if cmd.ConfigPath != "" {
		var err error
		if cfg, err = router.LoadConfig(cmd.ConfigPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	if cmd.ReceiveInterface != "" {
		cfg.Interfaces.Receive = cmd.ReceiveInterface
	}
	if cmd.SendInterface != "" {
		cfg.Interfaces.Send = cmd.SendInterface
	}
	if cmd.NextHop != "" {
		cfg.NextHop = cmd.NextHop
	}

	log, level, err := logging.Init(&cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cmd.Debug {
		level.SetLevel(zap.DebugLevel)
	}

	r, err := router.New(cfg, router.WithLog(log))
	if err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}
	defer r.Close()

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return r.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	err = wg.Wait()

	var interrupted xcmd.Interrupted
	if errors.As(err, &interrupted) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
