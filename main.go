package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/cmd/notificationservice"
	"git.platform.alem.school/amibragim/order-tracker/cmd/tokenissuer"
	"git.platform.alem.school/amibragim/order-tracker/cmd/trackingservice"
	"git.platform.alem.school/amibragim/order-tracker/internal/cli"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	// check for help flag first
	if len(os.Args) == 2 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		cli.PrintUsage(os.Stdout)
		os.Exit(0)
	}

	// parse all command-line arguments
	mode, svcArgs, err := cli.ParseMode(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	// ensure that mode is not empty
	if mode == "" {
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	// create context cancelled on SIGINT/SIGTERM signals ensuring graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// run the service specified by the mode flag
	switch mode {
	case cli.ModeTrack:
		fs := flag.NewFlagSet(cli.ModeTrack, flag.ContinueOnError)
		port := fs.Int("port", 3002, "HTTP port for the API and the /ws endpoint")
		configPath := fs.String("config", defaultConfigPath, "Path to the YAML config file")
		cli.AttachUsage(fs, cli.ModeTrack)
		parseOrExit(fs, svcArgs)

		if *port <= 0 || *port > 65535 {
			fmt.Fprintln(os.Stderr, "Error: --port must be between 1 and 65535")
			fs.Usage()
			os.Exit(2)
		}

		if err := trackingservice.Run(ctx, *configPath, *port); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeNotify:
		fs := flag.NewFlagSet(cli.ModeNotify, flag.ContinueOnError)
		configPath := fs.String("config", defaultConfigPath, "Path to the YAML config file")
		cli.AttachUsage(fs, cli.ModeNotify)
		parseOrExit(fs, svcArgs)

		if err := notificationservice.Run(ctx, *configPath); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeToken:
		fs := flag.NewFlagSet(cli.ModeToken, flag.ContinueOnError)
		configPath := fs.String("config", defaultConfigPath, "Path to the YAML config file")
		role := fs.String("role", "customer", "Role carried by the token (customer, restaurant_admin, superadmin)")
		user := fs.String("user", "", "User id carried by the token (required)")
		cli.AttachUsage(fs, cli.ModeToken)
		parseOrExit(fs, svcArgs)

		if *user == "" {
			fmt.Fprintln(os.Stderr, "Error: --user is required")
			fs.Usage()
			os.Exit(2)
		}

		if err := tokenissuer.Run(ctx, *configPath, *role, *user, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Millisecond):
	}
}

// parseOrExit parses args into fs, exiting 0 on -help and 2 on bad flags.
func parseOrExit(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}
