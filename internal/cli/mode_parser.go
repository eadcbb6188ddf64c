package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ModeTrack  = "tracking-service"
	ModeNotify = "notification-subscriber"
	ModeToken  = "issue-token"
)

// isKnownMode checks if the provided mode name is known.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModeTrack, "tracking", "track":
		return ModeTrack, true
	case ModeNotify, "notify":
		return ModeNotify, true
	case ModeToken, "token":
		return ModeToken, true
	default:
		return "", false
	}
}

// ParseMode supports:
//
//	--mode=<value>
//	<value> (subcommand shorthand), e.g., `tracking-service --port=3002`
//
// An unknown --mode value is an error.
func ParseMode(args []string) (string, []string, error) {
	var mode string
	var out []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "--mode=") {
			mode = strings.TrimPrefix(arg, "--mode=")
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return "", out, nil
	}

	m, ok := isKnownMode(mode)
	if !ok {
		return "", out, fmt.Errorf("unknown mode %q", mode)
	}
	return m, out, nil
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, "\033[36m") // switch the color to cyan

	fmt.Fprintln(w, `Usage:
  ./order-tracker --mode=<service> [flags]

Services (modes):
  tracking-service           HTTP API and live websocket updates for orders
  notification-subscriber    RabbitMQ subscriber that prints status notifications
  issue-token                Prints a session token for local testing

Examples:
  ./order-tracker --mode=tracking-service --port=3002 --config=config/config.yaml
  ./order-tracker --mode=notification-subscriber
  ./order-tracker --mode=issue-token --role=restaurant_admin --user=owner1`)

	fmt.Fprint(w, "\033[0m") // switch back to normal
}

func AttachUsage(fs *flag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ./order-tracker --mode=%s [flags]\n", mode)
		fs.PrintDefaults()
	}
}
