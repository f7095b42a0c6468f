// Package cli implements the billingctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/billing-core/internal/billing/periods"
	"github.com/odyssey-erp/billing-core/internal/billing/reports"
)

// Env carries what the commands run against. Nil fields mark features the
// loader could not provide.
type Env struct {
	Periods *periods.Service
	Reports *reports.Service
	Jobs    *JobsCLI
	Migrate func(ctx context.Context) error
}

// Loader builds an Env on first use so that --help never dials a backend.
type Loader func(ctx context.Context) (*Env, error)

type runner struct {
	load Loader
	env  *Env
	json bool
}

func (r *runner) environment(ctx context.Context) (*Env, error) {
	if r.env != nil {
		return r.env, nil
	}
	env, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	r.env = env
	return env, nil
}

// NewRootCommand assembles the billingctl command tree.
func NewRootCommand(load Loader) *cobra.Command {
	r := &runner{load: load}
	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operator tooling for the billing service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&r.json, "json", false, "Print results as JSON")
	root.AddCommand(r.migrateCommand(), r.periodsCommand(), r.reportCommand(), r.jobsCommand())
	return root
}

func (r *runner) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := r.environment(cmd.Context())
			if err != nil {
				return err
			}
			if env.Migrate == nil {
				return fmt.Errorf("migrate: database not configured")
			}
			if err := env.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func (r *runner) periodsCommand() *cobra.Command {
	var (
		owner       string
		year        int
		granularity string
	)
	cmd := &cobra.Command{
		Use:     "periods",
		Short:   "List the reporting periods of a year",
		Example: "  billingctl periods --owner acme --year 2024 --granularity bi-monthly",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := periods.ParseGranularity(granularity)
			if err != nil {
				return err
			}
			env, err := r.environment(cmd.Context())
			if err != nil {
				return err
			}
			if env.Periods == nil {
				return fmt.Errorf("periods: service not configured")
			}
			list, err := env.Periods.Periods(cmd.Context(), owner, year, g)
			if err != nil {
				return err
			}
			if r.json {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LABEL\tFROM\tTO\tSTATUS")
			for _, p := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Label, p.From.Format(time.DateOnly), p.To.Format(time.DateOnly), p.Status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id")
	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "Fiscal year")
	cmd.Flags().StringVar(&granularity, "granularity", "monthly", "annual, bi-monthly or monthly")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func (r *runner) reportCommand() *cobra.Command {
	var (
		owner    string
		year     int
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build a profit and loss report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromDate, err := optionalDate("from", from)
			if err != nil {
				return err
			}
			toDate, err := optionalDate("to", to)
			if err != nil {
				return err
			}
			env, err := r.environment(cmd.Context())
			if err != nil {
				return err
			}
			if env.Reports == nil {
				return fmt.Errorf("report: service not configured")
			}
			report, err := env.Reports.ProfitLoss(cmd.Context(), owner, year, fromDate, toDate)
			if err != nil {
				return err
			}
			if r.json {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Profit and loss %s to %s (%s)\n", report.From.Format(time.DateOnly), report.To.Format(time.DateOnly), report.Currency)
			fmt.Fprintf(out, "Revenue   %s (VAT %s)\n", report.Revenue.Taxable.StringFixed(2), report.Revenue.VAT.StringFixed(2))
			fmt.Fprintf(out, "Expenses  %s (recognized %s)\n", report.Expenses.Total.StringFixed(2), report.Expenses.Recognized.StringFixed(2))
			fmt.Fprintf(out, "Net       %s\n", report.NetProfit.StringFixed(2))
			fmt.Fprintf(out, "%d transactions\n", len(report.Transactions))
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id")
	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "Fiscal year")
	cmd.Flags().StringVar(&from, "from", "", "Custom range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Custom range end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func (r *runner) jobsCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect and trigger background jobs"}

	var opts TriggerOptions
	trigger := &cobra.Command{
		Use:   "trigger <" + strings.Join(JobNames, "|") + ">",
		Short: "Enqueue a job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := r.jobs(cmd.Context())
			if err != nil {
				return err
			}
			info, err := cli.Trigger(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if r.json {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	trigger.Flags().StringVar(&opts.AsOf, "as-of", "", "Sweep date for transition jobs (YYYY-MM-DD)")
	trigger.Flags().StringVar(&opts.OwnerID, "owner", "", "Warm a single owner")
	trigger.Flags().IntVar(&opts.Year, "year", 0, "Report year to warm")

	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Show queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := r.jobs(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := cli.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			if r.json {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			return nil
		},
	}

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := r.jobs(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := cli.ListScheduled(cmd.Context(), size)
			if err != nil {
				return err
			}
			for _, task := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", task.ID, task.Type, task.NextProcessAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	scheduled.Flags().IntVar(&size, "size", 10, "Page size")

	cmd.AddCommand(trigger, inspect, scheduled)
	return cmd
}

func (r *runner) jobs(ctx context.Context) (*JobsCLI, error) {
	env, err := r.environment(ctx)
	if err != nil {
		return nil, err
	}
	if env.Jobs == nil {
		return nil, fmt.Errorf("jobs: redis not configured")
	}
	return env.Jobs, nil
}

func optionalDate(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q, use YYYY-MM-DD", field, raw)
	}
	return &parsed, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
