// devicectl is the operator tool for the relay's device catalog: registering
// meters, assigning owners, checking liveness, issuing dashboard tokens and
// injecting test telemetry through the ingest queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/septivank/water-meter-relay/internal/config"
)

const usage = `Usage: devicectl <command> [flags]

Commands:
  create   register a device (--device-id, --name, --pulse-to-liter, --owner...)
  claim    add an owner to a device (--device-id, --owner)
  status   list a user's devices with online state and latest logs (--owner)
  token    issue a relay token for a user (--user-id, --username, --ttl)
  send     publish a telemetry frame to the ingest exchange (--device-id, --count)

Configuration is read from the environment and .env, as for the relay.
`

var errUsage = errors.New("invalid usage")

func main() {
	config.LoadEnvFile(config.EnvFileCandidates()...)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch args[0] {
	case "create":
		return withBackend(ctx, cfg, func(c *commands) error { return c.create(ctx, args[1:]) }, out)
	case "claim":
		return withBackend(ctx, cfg, func(c *commands) error { return c.claim(ctx, args[1:]) }, out)
	case "status":
		return withBackend(ctx, cfg, func(c *commands) error { return c.status(ctx, args[1:]) }, out)
	case "token":
		return (&commands{cfg: cfg, out: out}).token(args[1:])
	case "send":
		return (&commands{cfg: cfg, out: out}).send(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}
