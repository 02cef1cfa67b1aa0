package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fourheat-core/internal/api"
	"github.com/nerrad567/fourheat-core/internal/auth"
	"github.com/nerrad567/fourheat-core/internal/controller"
	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

// errNoDevice is returned by discover when no stove answered the probe.
var errNoDevice = errors.New("no device answered the discovery probe")

// session is one short-lived connection to the stove for a CLI command.
type session struct {
	client *pinkey.Client
	ctrl   *controller.Controller
}

// withSession loads the configuration, builds a client and controller and
// runs fn under the command timeout. The controller is never started; the
// commands poll explicitly.
func (o *rootOptions) withSession(ctx context.Context, fn func(ctx context.Context, s *session) error) error {
	cfg, err := o.loadConfig(true)
	if err != nil {
		return err
	}
	log := o.cliLogger(cfg)

	client := newDeviceClient(cfg, log)
	defer client.Close() //nolint:errcheck // process is exiting

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	return fn(ctx, &session{client: client, ctrl: newController(cfg, client, log)})
}

// printJSON writes v to stdout as indented JSON.
func (o *rootOptions) printJSON(v any) error {
	enc := json.NewEncoder(o.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// statusView is the printed form of a snapshot.
type statusView struct {
	Host       string              `json:"host"`
	StatoLabel string              `json:"stato_label"`
	Blocked    bool                `json:"blocked"`
	State      *pinkey.DeviceState `json:"state"`
}

func (o *rootOptions) printState(s *session) error {
	state := s.ctrl.State()
	if state == nil {
		return controller.ErrDeviceUnavailable
	}
	return o.printJSON(statusView{
		Host:       s.client.CurrentHost(),
		StatoLabel: state.StatoLabel(),
		Blocked:    state.IsBlocked(),
		State:      state,
	})
}

func newDiscoverCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Wake the stove and print its identity",
		Long: `Broadcast the CF4 probe and print the first reply.

The probe goes to discovery.broadcast_address:broadcast_port and the reply
is awaited on discovery.listen_port, for discovery.retries rounds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				dev, ok := s.client.Discover(ctx)
				if !ok {
					return errNoDevice
				}
				return opts.printJSON(dev)
			})
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Read the stove once and print its state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				if _, err := s.ctrl.PollNow(ctx); err != nil {
					return err
				}
				return opts.printState(s)
			})
		},
	}
}

// newActionCmd builds a command that reads the stove, runs action and
// prints the refreshed state.
func newActionCmd(opts *rootOptions, use, short string, action func(*controller.Controller) func(context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				// The snapshot tells TurnOn whether a reset is needed first.
				s.ctrl.PollNow(ctx) //nolint:errcheck // the action reports reachability
				if err := action(s.ctrl)(ctx); err != nil {
					return err
				}
				return opts.printState(s)
			})
		},
	}
}

func newOnCmd(opts *rootOptions) *cobra.Command {
	return newActionCmd(opts, "on", "Turn the stove on, resetting a lockout first",
		func(c *controller.Controller) func(context.Context) error { return c.TurnOn })
}

func newOffCmd(opts *rootOptions) *cobra.Command {
	return newActionCmd(opts, "off", "Turn the stove off",
		func(c *controller.Controller) func(context.Context) error { return c.TurnOff })
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return newActionCmd(opts, "reset", "Clear an error lockout",
		func(c *controller.Controller) func(context.Context) error { return c.ResetError })
}

func newSetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <param-id-hex> <value>",
		Short: "Write a raw value to a device parameter",
		Long: `Write a raw, unscaled value to a parameter from the current snapshot.

The parameter id is hexadecimal, with or without 0x (e.g. 00c7 is the
thermostat setpoint). The value is written as the device stores it, so a
parameter with one decimal position takes 215 for 21.5.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseParameterID(args[0])
			if err != nil {
				return err
			}
			value, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[1], err)
			}

			return opts.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				if _, err := s.ctrl.PollNow(ctx); err != nil {
					return err
				}
				if err := s.ctrl.WriteParameter(ctx, id, value); err != nil {
					return err
				}
				return opts.printState(s)
			})
		},
	}
}

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "schedule [enable|disable]",
		Short:     "Print, enable or disable the weekly programme",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"enable", "disable"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				if len(args) == 1 {
					toggle := s.ctrl.EnableCrono
					if args[0] == "disable" {
						toggle = s.ctrl.DisableCrono
					}
					if err := toggle(ctx); err != nil {
						return err
					}
				}
				schedule, err := s.ctrl.ReadSchedule(ctx)
				if err != nil {
					return err
				}
				return opts.printJSON(schedule)
			})
		},
	}
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Issue an API access token",
		Long: `Sign an HS256 access token with security.jwt.secret.

The token authorises the mutating API routes and POST /auth/ws-ticket.
Without --ttl the lifetime is security.jwt.access_token_ttl minutes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(true)
			if err != nil {
				return err
			}
			subject := "cli"
			if len(args) == 1 {
				subject = args[0]
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}

			token, err := api.IssueToken(cfg.Security.JWT.Secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(opts.stdout, token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime")
	return cmd
}

func newHashPasswordCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a login password for security.password_hash",
		Long: `Read a password from the first line of stdin and print its Argon2id
hash. Put the output in security.password_hash to enable POST /auth/login.

  echo -n 'secret' | fourheat hash-password`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading password: %w", err)
			}
			hash, err := auth.HashPassword(strings.TrimRight(line, "\r\n"))
			if err != nil {
				return err
			}
			fmt.Fprintln(opts.stdout, hash)
			return nil
		},
	}
}

// parseParameterID accepts "00c7", "0x00C7" or "c7".
func parseParameterID(s string) (uint16, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(s), "0x")
	id, err := strconv.ParseUint(trimmed, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid parameter id %q: want hex such as 00c7", s)
	}
	return uint16(id), nil
}
