package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/entrhq/courier/pkg/archive"
	"github.com/entrhq/courier/pkg/config"
	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/sites"
	"github.com/entrhq/courier/pkg/workflow"
	"github.com/entrhq/courier/pkg/workflow/expenses"
	"github.com/entrhq/courier/pkg/workflow/invoices"
)

// rootOptions are the flags every workflow shares.
type rootOptions struct {
	configFile string
	siteFile   string
	deadline   time.Duration
	skipMFA    bool
}

// flagUsage documents the configuration options that can be set per run.
var flagUsage = map[string]string{
	"cdp_url":             "browser control endpoint",
	"output_dir":          "directory for documents, ledger and handoff files",
	"pass_path":           "credential entry in the password store",
	"mfa_phone":           "phone hint used to pick the one-time code destination",
	"mfa_timeout":         "seconds to wait for a one-time code",
	"settle_timeout":      "ceiling for waiting on the page to go idle",
	"probe_timeout":       "ceiling for probing the control endpoint",
	"poll_interval":       "how often the code file is checked",
	"rate_limit_cooldown": "how long to refuse runs after a rate limit",
	"auth_cooldown":       "how long to refuse runs after a code timeout",
	"log_level":           "console output: quiet, normal, verbose or debug",
	"only_new":            "also skip statements whose file is already on disk",
	"archive_bucket":      "GCS bucket receiving a copy of each statement",
	"archive_prefix":      "object name prefix inside the archive bucket",
	"monthly_limit":       "monthly ceiling for the expense category",
	"line_items":          `line items as "Description:amount,Description:amount"`,
	"months_back":         "number of past months to file",
	"category":            "expense category",
	"vendor":              "vendor picked from the autocomplete",
	"location":            "location picked from the autocomplete",
	"reimbursable":        "mark expenses as reimbursable",
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "courier",
		Short:         "Run browser workflows against an operator-owned browser",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "configuration file (default ~/.config/courier/<site>.json)")
	pf.StringVar(&opts.siteFile, "site-file", "", "site definition replacing the built-in one")
	pf.DurationVar(&opts.deadline, "deadline", 0, "stop the run after this long (0 means no deadline)")
	pf.BoolVar(&opts.skipMFA, "skip-mfa", false, "fail instead of waiting when a one-time code is required")

	cmd.AddCommand(newInvoicesCmd(opts))
	cmd.AddCommand(newExpensesCmd(opts))
	cmd.AddCommand(newSitesCmd())
	return cmd
}

func newInvoicesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "Download billing statements (AT&T)",
	}
	addConfigFlags(cmd.PersistentFlags(), config.New("att"), config.SectionIDSession, config.SectionIDInvoices)

	cmd.AddCommand(newConfigCmd(opts, "att"))
	cmd.AddCommand(&cobra.Command{
		Use:   "login",
		Short: "Sign in and stop",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return runJob(c, opts, "att", func(*config.Config) (workflow.Job, error) {
				return invoices.LoginJob(), nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "download",
		Short: "Download every statement not downloaded before",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return runJob(c, opts, "att", func(cfg *config.Config) (workflow.Job, error) {
				jo := invoices.Options{OnlyNew: cfg.Invoices.OnlyNew}
				if bucket := cfg.Invoices.ArchiveBucket; bucket != "" {
					jo.Archiver = archive.NewGCS(bucket, cfg.Invoices.ArchivePrefix)
				}
				return invoices.DownloadJob(jo), nil
			})
		},
	})
	return cmd
}

// expensesFlags are the per-phase flags of the expenses commands.
type expensesFlags struct {
	reportID string
	receipts []string
	confirm  bool
}

func (f *expensesFlags) options() expenses.Options {
	return expenses.Options{ReportID: f.reportID, Receipts: f.receipts, Confirm: f.confirm}
}

func newExpensesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expenses",
		Short: "File monthly expense reports (Certify)",
	}
	addConfigFlags(cmd.PersistentFlags(), config.New("certify"), config.SectionIDSession, config.SectionIDExpenses)

	phase := func(use, short string, needsConfirm bool, build func(cfg *config.Config, f *expensesFlags) workflow.Job,
		flags func(fs *pflag.FlagSet, f *expensesFlags)) *cobra.Command {
		f := &expensesFlags{}
		c := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				if needsConfirm && !f.confirm {
					return &usageError{err: expenses.ErrNotConfirmed}
				}
				return runJob(c, opts, "certify", func(cfg *config.Config) (workflow.Job, error) {
					return build(cfg, f), nil
				})
			},
		}
		if flags != nil {
			flags(c.Flags(), f)
		}
		return c
	}
	reportFlag := func(fs *pflag.FlagSet, f *expensesFlags) {
		fs.StringVar(&f.reportID, "report-id", "", "report to work on (default: the last created)")
	}
	receiptsFlag := func(fs *pflag.FlagSet, f *expensesFlags) {
		fs.StringSliceVar(&f.receipts, "receipts", nil, "receipt files or glob patterns")
	}
	confirmFlag := func(fs *pflag.FlagSet, f *expensesFlags) {
		fs.BoolVar(&f.confirm, "confirm", false, "allow the report to be submitted")
	}

	cmd.AddCommand(newConfigCmd(opts, "certify"))
	cmd.AddCommand(
		phase("login", "Sign in and stop", false,
			func(*config.Config, *expensesFlags) workflow.Job { return expenses.LoginJob() }, nil),
		phase("create", "Enter the monthly line items into a report", false,
			func(cfg *config.Config, f *expensesFlags) workflow.Job {
				return expenses.CreateJob(cfg.Expenses, f.options())
			}, reportFlag),
		phase("upload", "Upload receipts to the wallet", false,
			func(_ *config.Config, f *expensesFlags) workflow.Job { return expenses.UploadJob(f.options()) },
			receiptsFlag),
		phase("attach", "Attach wallet receipts to expenses that have none", false,
			func(_ *config.Config, f *expensesFlags) workflow.Job { return expenses.AttachJob(f.options()) },
			reportFlag),
		phase("submit", "Submit the report for approval", true,
			func(_ *config.Config, f *expensesFlags) workflow.Job { return expenses.SubmitJob(f.options()) },
			func(fs *pflag.FlagSet, f *expensesFlags) {
				reportFlag(fs, f)
				confirmFlag(fs, f)
			}),
		phase("full", "Create, attach receipts and submit when confirmed", false,
			func(cfg *config.Config, f *expensesFlags) workflow.Job {
				return expenses.FullJob(cfg.Expenses, f.options())
			},
			func(fs *pflag.FlagSet, f *expensesFlags) {
				reportFlag(fs, f)
				receiptsFlag(fs, f)
				confirmFlag(fs, f)
			}),
	)
	return cmd
}

func newConfigCmd(opts *rootOptions, siteName string) *cobra.Command {
	var write, force bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, or write it as the config file",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			fs := afero.NewOsFs()
			site, err := sites.Load(fs, siteName, opts.siteFile)
			if err != nil {
				return &usageError{err: err}
			}
			cfg, err := config.Load(site, config.LoadOptions{ConfigFile: opts.configFile, Flags: c.Flags()})
			if err != nil {
				return &usageError{err: err}
			}
			if !write {
				data, err := cfg.Marshal()
				if err != nil {
					return err
				}
				_, err = c.OutOrStdout().Write(data)
				return err
			}

			path := opts.configFile
			if path == "" {
				path = config.DefaultFile(site.Name, "")
			}
			path = config.ExpandHome(path)
			if err := config.Save(fs, path, cfg, force); err != nil {
				if errors.Is(err, config.ErrFileExists) {
					return &usageError{err: fmt.Errorf("%w (use --force to replace it)", err)}
				}
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "write the configuration to the config file")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing config file")
	return cmd
}

func newSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List the built-in site definitions",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			for _, name := range sites.Names() {
				site, err := sites.Builtin(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "%-10s %-12s %s\n", site.Name, site.Title, site.LoginURL)
			}
			return nil
		},
	}
}

// addConfigFlags registers a flag for every option of the named sections,
// typed after the option's default.
func addConfigFlags(fs *pflag.FlagSet, cfg *config.Config, sectionIDs ...string) {
	for _, id := range sectionIDs {
		section, ok := cfg.Section(id)
		if !ok {
			continue
		}
		data := section.Data()
		keys := make([]string, 0, len(data))
		for key := range data {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			name := config.FlagName(key)
			if fs.Lookup(name) != nil {
				continue
			}
			usage := flagUsage[key]
			switch v := data[key].(type) {
			case bool:
				fs.Bool(name, v, usage)
			case int:
				fs.Int(name, v, usage)
			case string:
				fs.String(name, v, usage)
			default:
				fs.String(name, "", usage)
			}
		}
	}
}

// runJob loads site and configuration, points the log files at the output
// directory and runs the job built from the configuration.
func runJob(cmd *cobra.Command, opts *rootOptions, siteName string, build func(cfg *config.Config) (workflow.Job, error)) error {
	fs := afero.NewOsFs()
	site, err := sites.Load(fs, siteName, opts.siteFile)
	if err != nil {
		return &usageError{err: err}
	}
	cfg, err := config.Load(site, config.LoadOptions{ConfigFile: opts.configFile, Flags: cmd.Flags()})
	if err != nil {
		return &usageError{err: err}
	}
	logging.SetDirectory(filepath.Join(cfg.Session.Dir(), "logs"))

	job, err := build(cfg)
	if err != nil {
		return err
	}
	runner := workflow.NewRunner(site, cfg,
		workflow.WithFS(fs),
		workflow.WithDeadline(opts.deadline),
		workflow.WithSkipChallenge(opts.skipMFA),
	)
	_, err = runner.Run(cmd.Context(), job)
	return err
}
