package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/paypoint-blue/internal/config"
	"github.com/r9s-ai/paypoint-blue/pkg/blue"
)

type checkOptions struct {
	cfgPath string
	ping    bool
	timeout time.Duration
}

func newCheckCmd() *cobra.Command {
	opts := checkOptions{cfgPath: defaultConfigPath, timeout: 30 * time.Second}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config and optionally ping the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.cfgPath, "config", "c", opts.cfgPath, "config yaml path")
	fs.BoolVar(&opts.ping, "ping", false, "ping the configured gateway")
	fs.DurationVar(&opts.timeout, "timeout", opts.timeout, "ping timeout")
	return cmd
}

type pinger interface {
	Ping(ctx context.Context) (bool, error)
}

func runCheck(ctx context.Context, w io.Writer, opts checkOptions) error {
	cfg, err := config.Load(opts.cfgPath)
	if err != nil {
		return fmt.Errorf("load config %q: %w", opts.cfgPath, err)
	}
	o, err := cfg.ClientOptions(log.New(w, "", 0))
	if err != nil {
		return err
	}

	var c pinger
	var stages []string
	switch cfg.Gateway.Kind {
	case "hosted":
		h, err := blue.NewHosted(o)
		if err != nil {
			return err
		}
		c, stages = h, h.Stages()
	default:
		a, err := blue.NewAPI(o)
		if err != nil {
			return err
		}
		c, stages = a, a.Stages()
	}
	fmt.Fprintf(w, "config ok: %s gateway %s\n", cfg.Gateway.Kind, cfg.Gateway.Endpoint)
	fmt.Fprintf(w, "stages: %v\n", stages)

	if !opts.ping {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	ok, err := c.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("ping: gateway %s did not answer 200", cfg.Gateway.Endpoint)
	}
	fmt.Fprintln(w, "ping ok")
	return nil
}
