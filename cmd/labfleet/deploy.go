package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tastythames/labfleet/internal/command"
	"github.com/tastythames/labfleet/internal/inventory"
	"github.com/tastythames/labfleet/internal/report"
	"github.com/tastythames/labfleet/internal/retry"
	"github.com/tastythames/labfleet/internal/scheduler"
	"github.com/tastythames/labfleet/internal/sshexec"
)

type deployOptions struct {
	inventoryPath string
	commandTpl    string
	logDir        string

	concurrency   int
	maxRetries    int
	retryDelay    time.Duration
	retryStep     time.Duration
	retryMaxDelay time.Duration
	timeout       time.Duration
	stagger       time.Duration

	sets       []string
	targets    []string
	failedFrom string
	envFile    string
}

func deployCmd() *cobra.Command {
	opts := &deployOptions{}

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run the provisioning command on every target",
		Long: `Run the provisioning command on every target in the inventory.

Each target is reached through its relay host. Targets run concurrently up to
--concurrency; failed targets are retried up to --retries times. Every target
gets its own log file under --log-dir, a combined run log mirrors the live
progress, and a summary file is written for re-run selection.

Examples:
  # deploy the whole fleet
  labfleet deploy -i targets.yaml \
    --command 'cd /opt/goad && source .venv/bin/activate && python3 goad.py -p {{.Vars.provider}} -l GOAD -m local' \
    --set provider=proxmox

  # re-run only what failed last time
  labfleet deploy -i targets.yaml --command '...' --failed-from logs/run_20260827_120000_summary.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDeploy(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.inventoryPath, "inventory", "i", getenv("LABFLEET_INVENTORY", "targets.yaml"), "Path to the target inventory YAML")
	cmd.Flags().StringVar(&opts.commandTpl, "command", getenv("LABFLEET_COMMAND", ""), "Remote command template (required)")
	cmd.Flags().StringVar(&opts.logDir, "log-dir", getenv("LABFLEET_LOG_DIR", "./logs"), "Directory for per-target and run logs")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 10, "Maximum targets provisioning at once")
	cmd.Flags().IntVar(&opts.maxRetries, "retries", 3, "Retry attempts after a failed attempt")
	cmd.Flags().DurationVar(&opts.retryDelay, "retry-delay", 10*time.Second, "Delay before the first retry")
	cmd.Flags().DurationVar(&opts.retryStep, "retry-step", 0, "Linear delay increase per retry (0 = fixed delay)")
	cmd.Flags().DurationVar(&opts.retryMaxDelay, "retry-max-delay", 5*time.Minute, "Ceiling for the retry delay")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Hour, "Per-attempt timeout")
	cmd.Flags().DurationVar(&opts.stagger, "stagger", 100*time.Millisecond, "Delay between initial dispatches")
	cmd.Flags().StringArrayVar(&opts.sets, "set", nil, "Template variable, key=value (repeatable)")
	cmd.Flags().StringSliceVar(&opts.targets, "targets", nil, "Only run these targets (comma-separated names)")
	cmd.Flags().StringVar(&opts.failedFrom, "failed-from", "", "Only run the failed targets of a previous run's summary file")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file with credential variables")

	return cmd
}

func runDeploy(cmd *cobra.Command, opts *deployOptions) error {
	// Credential env vars referenced by the inventory may live in a dotenv
	// file; a missing file is fine.
	if err := godotenv.Load(opts.envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", opts.envFile, err)
	}

	if opts.commandTpl == "" {
		return fmt.Errorf("--command is required")
	}
	if opts.concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1")
	}
	if opts.failedFrom != "" && len(opts.targets) > 0 {
		return fmt.Errorf("--failed-from and --targets are mutually exclusive")
	}

	vars, err := parseSets(opts.sets)
	if err != nil {
		return err
	}

	inv, err := inventory.Load(opts.inventoryPath)
	if err != nil {
		return err
	}

	switch {
	case opts.failedFrom != "":
		prev, err := report.LoadSummary(opts.failedFrom)
		if err != nil {
			return err
		}
		if len(prev.FailedTargets) == 0 {
			log.Printf("nothing to do: %s lists no failed targets", opts.failedFrom)
			return nil
		}
		if inv, err = inv.Select(prev.FailedTargets); err != nil {
			return err
		}
	case len(opts.targets) > 0:
		if inv, err = inv.Select(opts.targets); err != nil {
			return err
		}
	}

	tpl, err := command.Parse(opts.commandTpl)
	if err != nil {
		return err
	}

	// Render every command up front; a bad template or target value aborts
	// before any job exists.
	works := make([]scheduler.Work, 0, len(inv.Targets))
	for _, t := range inv.Targets {
		remote, err := tpl.Render(t, vars)
		if err != nil {
			return err
		}
		works = append(works, scheduler.Work{Target: t, Command: remote})
	}

	rep, err := report.New(opts.logDir, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("deploying %d target(s), concurrency %d, %d retr(y/ies), logs in %s",
		len(works), opts.concurrency, opts.maxRetries, opts.logDir)

	sched := scheduler.New(scheduler.Config{
		Workers: opts.concurrency,
		Stagger: opts.stagger,
		Policy: retry.Policy{
			MaxRetries: opts.maxRetries,
			Delay:      opts.retryDelay,
			Step:       opts.retryStep,
			MaxDelay:   opts.retryMaxDelay,
		},
	}, &sshexec.Executor{Timeout: opts.timeout}, rep)

	sched.Run(ctx, works)

	summary := rep.Finalize()
	if err := summary.WriteFile(rep.SummaryPath()); err != nil {
		// summary file trouble must not mask the run result
		log.Printf("write summary: %v", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), summary.Render())

	if !summary.AllSucceeded() {
		return fmt.Errorf("%d of %d target(s) failed; see %s", summary.Failed, summary.Total, rep.SummaryPath())
	}
	return nil
}

func parseSets(sets []string) (map[string]string, error) {
	vars := make(map[string]string, len(sets))
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad --set %q, want key=value", kv)
		}
		vars[k] = v
	}
	return vars, nil
}
