package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/legifetch/internal/app"
	"github.com/JakeFAU/legifetch/internal/daemon"
)

// newController is the controller factory. Tests replace it to inject process fakes.
var newController = func(rt *runtime) (*daemon.Controller, error) {
	var opts []app.Option
	if rt.cfgFile != "" {
		opts = append(opts, app.WithDaemonArgs("--config", rt.cfgFile))
	}
	return app.NewController(rt.cfg, rt.logger, opts...)
}

// launchOwner starts the browser the foreground daemon serves. Tests replace it.
var launchOwner = func(cmd *cobra.Command, rt *runtime, driver string) (daemon.Owner, error) {
	return app.LaunchBrowser(cmd.Context(), rt.cfg, driver, rt.logger)
}

func controllerFor(cmd *cobra.Command) (*runtime, *daemon.Controller, error) {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	ctrl, err := newController(rt)
	if err != nil {
		return nil, nil, err
	}
	return rt, ctrl, nil
}

// newDaemonCmd runs the browser daemon in the foreground until SIGTERM, SIGHUP or SIGINT.
// A daemon already running is stopped first, as start-daemon does.
func newDaemonCmd() *cobra.Command {
	var (
		driver  string
		spawned bool
	)
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the browser daemon in the foreground",
		Long: `Launches a browser, publishes its connection descriptor and keeps it alive until
SIGTERM, SIGHUP or SIGINT. A daemon that is already running is stopped first. Other
legifetch invocations attach to this browser instead of starting their own.`,
		Annotations: map[string]string{annotationNoApp: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, ctrl, err := controllerFor(cmd)
			if err != nil {
				return err
			}
			if spawned {
				rt.logger.Debug("Running as spawned daemon")
			} else if err := ctrl.StopAndWait(cmd.Context()); err != nil {
				return fmt.Errorf("stop running daemon: %w", err)
			}
			owner, err := launchOwner(cmd, rt, driver)
			if err != nil {
				return fmt.Errorf("launch browser: %w", err)
			}
			return ctrl.RunForeground(cmd.Context(), owner)
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "", "browser driver (default from browser.driver)")
	cmd.Flags().BoolVar(&spawned, "spawned", false, "set by start-daemon on the child process")
	_ = cmd.Flags().MarkHidden("spawned")
	return cmd
}

func newStartDaemonCmd() *cobra.Command {
	var driver string
	cmd := &cobra.Command{
		Use:         "start-daemon",
		Short:       "Start the browser daemon in the background, replacing any running one",
		Annotations: map[string]string{annotationNoApp: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, ctrl, err := controllerFor(cmd)
			if err != nil {
				return err
			}
			if driver == "" {
				driver = rt.cfg.Browser.Driver
			}
			h, err := ctrl.Start(cmd.Context(), driver)
			if err != nil {
				return err
			}
			rt.logger.Info("Daemon started", zap.Int("pid", h.PID), zap.String("url", h.Descriptor.URL))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "daemon started: pid %d, %s\n", h.PID, h.Descriptor.URL)
			return err
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "", "browser driver (default from browser.driver)")
	return cmd
}

func newStopDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "stop-daemon",
		Short:       "Ask the running browser daemon to exit",
		Annotations: map[string]string{annotationNoApp: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, ctrl, err := controllerFor(cmd)
			if err != nil {
				return err
			}
			stopped, err := ctrl.Stop()
			if err != nil {
				return err
			}
			msg := "no daemon running"
			if stopped {
				msg = "daemon signaled"
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), msg)
			return err
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "daemon-status",
		Short:       "Report whether a browser daemon is running",
		Annotations: map[string]string{annotationNoApp: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, ctrl, err := controllerFor(cmd)
			if err != nil {
				return err
			}
			d, ok := ctrl.Status()
			if !ok {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "not running")
				return err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "running\npid: %d\nurl: %s\nsession: %s\n", d.PID, d.URL, d.SessionID)
			keys := make([]string, 0, len(d.Capabilities))
			for k := range d.Capabilities {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, "%s: %v\n", k, d.Capabilities[k])
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), b.String())
			return err
		},
	}
}
