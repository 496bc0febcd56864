package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/septivank/water-meter-relay/internal/auth"
	"github.com/septivank/water-meter-relay/internal/config"
	"github.com/septivank/water-meter-relay/internal/db"
	"github.com/septivank/water-meter-relay/internal/logging"
	"github.com/septivank/water-meter-relay/internal/meter"
	"github.com/septivank/water-meter-relay/internal/mq"
	"github.com/septivank/water-meter-relay/internal/repository"
	"github.com/septivank/water-meter-relay/tools/timeparser"
)

type commands struct {
	cfg     *config.Config
	backend repository.Backend
	out     io.Writer
	now     func() time.Time
}

func withBackend(ctx context.Context, cfg *config.Config, fn func(c *commands) error, out io.Writer) error {
	backend, err := repository.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()
	return fn(&commands{cfg: cfg, backend: backend, out: out, now: time.Now})
}

func parse(flagSet *pflag.FlagSet, args []string) error {
	if err := flagSet.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("%w: unexpected argument %q", errUsage, rest[0])
	}
	return nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: --%s is required", errUsage, name)
	}
	return nil
}

func (c *commands) create(ctx context.Context, args []string) error {
	var deviceID, name string
	var factor float64
	var owners []string

	flagSet := pflag.NewFlagSet("create", pflag.ContinueOnError)
	flagSet.StringVar(&deviceID, "device-id", "", "unique device identifier (max 100 chars)")
	flagSet.StringVar(&name, "name", "", "optional display name")
	flagSet.Float64Var(&factor, "pulse-to-liter", c.cfg.Meter.DefaultPulseToLiter, "pulses per liter")
	flagSet.StringArrayVar(&owners, "owner", nil, "owner user id (repeatable)")
	if err := parse(flagSet, args); err != nil {
		return err
	}
	if err := required("device-id", deviceID); err != nil {
		return err
	}

	device := &db.Device{DeviceID: deviceID, PulseToLiter: factor}
	if name != "" {
		device.Name = &name
	}
	if err := c.backend.CreateDevice(ctx, device, owners...); err != nil {
		if errors.Is(err, repository.ErrDeviceExists) {
			return fmt.Errorf("device %s already exists", deviceID)
		}
		return err
	}

	fmt.Fprintf(c.out, "created device %s (pulse_to_liter=%g, owners=%d)\n", deviceID, factor, len(owners))
	return nil
}

func (c *commands) claim(ctx context.Context, args []string) error {
	var deviceID, owner string

	flagSet := pflag.NewFlagSet("claim", pflag.ContinueOnError)
	flagSet.StringVar(&deviceID, "device-id", "", "device to claim")
	flagSet.StringVar(&owner, "owner", "", "user id of the new owner")
	if err := parse(flagSet, args); err != nil {
		return err
	}
	if err := required("device-id", deviceID); err != nil {
		return err
	}
	if err := required("owner", owner); err != nil {
		return err
	}

	added, err := c.backend.AddOwner(ctx, deviceID, owner)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return fmt.Errorf("device %s does not exist", deviceID)
		}
		return err
	}

	if added {
		fmt.Fprintf(c.out, "device %s claimed by %s\n", deviceID, owner)
	} else {
		fmt.Fprintf(c.out, "device %s already claimed by %s\n", deviceID, owner)
	}
	return nil
}

func (c *commands) status(ctx context.Context, args []string) error {
	var owner string

	flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
	flagSet.StringVar(&owner, "owner", "", "user id whose devices to show")
	if err := parse(flagSet, args); err != nil {
		return err
	}
	if err := required("owner", owner); err != nil {
		return err
	}

	devices, err := c.backend.DevicesOwnedBy(ctx, owner)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintf(c.out, "%s owns no devices\n", owner)
		return nil
	}

	now := c.now()
	threshold := time.Duration(c.cfg.Meter.OnlineThresholdSeconds) * time.Second
	pks := make([]int64, 0, len(devices))
	names := make(map[int64]string, len(devices))

	fmt.Fprintln(c.out, "DEVICE\tSTATE\tLAST SEEN")
	for _, d := range devices {
		pks = append(pks, d.ID)
		names[d.ID] = d.DeviceID

		state := "offline"
		if meter.IsOnline(d.LastSeen, now, threshold) {
			state = "online"
		}
		lastSeen := "never"
		if d.LastSeen != nil {
			lastSeen = timeparser.FormatISO8601(*d.LastSeen)
		}
		fmt.Fprintf(c.out, "%s\t%s\t%s\n", d.DeviceID, state, lastSeen)
	}

	logs, err := c.backend.RecentLogs(ctx, pks, c.cfg.Meter.RecentLogLimit)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return nil
	}

	fmt.Fprintln(c.out, "\nTIMESTAMP\tDEVICE\tCOUNT\tLITERS")
	for _, l := range logs {
		fmt.Fprintf(c.out, "%s\t%s\t%d\t%.3f\n", timeparser.FormatISO8601(l.CreatedAt), names[l.DevicePK], l.Count, l.Liters)
	}
	return nil
}

func (c *commands) token(args []string) error {
	var userID, username string
	var ttl time.Duration

	flagSet := pflag.NewFlagSet("token", pflag.ContinueOnError)
	flagSet.StringVar(&userID, "user-id", "", "user id carried in the token")
	flagSet.StringVar(&username, "username", "", "display name used in the welcome message")
	flagSet.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	if err := parse(flagSet, args); err != nil {
		return err
	}
	if err := required("user-id", userID); err != nil {
		return err
	}

	resolver := auth.NewResolver(c.cfg.Auth.JWTSecret, c.cfg.Auth.QueryParam)
	if !resolver.Enabled() {
		return errors.New("JWT_SECRET is not set")
	}

	var claims jwt.MapClaims
	if ttl > 0 {
		claims = jwt.MapClaims{"exp": time.Now().Add(ttl).Unix()}
	}
	token, err := resolver.Issue(auth.Identity{UserID: userID, Username: username}, claims)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, token)
	return nil
}

func (c *commands) send(ctx context.Context, args []string) error {
	var deviceID string
	var count int64
	var repeat int

	flagSet := pflag.NewFlagSet("send", pflag.ContinueOnError)
	flagSet.StringVar(&deviceID, "device-id", "", "device the frame reports for")
	flagSet.Int64Var(&count, "count", 0, "pulse count")
	flagSet.IntVar(&repeat, "repeat", 1, "number of frames to publish")
	if err := parse(flagSet, args); err != nil {
		return err
	}
	if err := required("device-id", deviceID); err != nil {
		return err
	}
	if count < 0 || repeat < 1 {
		return fmt.Errorf("%w: --count must be non-negative and --repeat positive", errUsage)
	}
	if !c.cfg.RabbitMQ.Enabled() {
		return errors.New("RABBITMQ_URL is not set")
	}

	logger, err := logging.NewLogger(c.cfg.ServiceName+"-devicectl", "warn")
	if err != nil {
		return err
	}
	defer logger.Sync()

	conn, err := mq.Dial(c.cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	publisher, err := mq.NewPublisher(conn, c.cfg.RabbitMQ.IngestExchange, c.cfg.RabbitMQ.IngestRoutingKey, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	frame := mq.TelemetryFrame{DeviceID: deviceID, Count: count}
	for i := 0; i < repeat; i++ {
		if err := publisher.PublishTelemetry(ctx, uuid.NewString(), frame); err != nil {
			return err
		}
	}

	fmt.Fprintf(c.out, "published %d frame(s) for %s to %s\n", repeat, deviceID, c.cfg.RabbitMQ.IngestExchange)
	return nil
}
