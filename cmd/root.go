// Package cmd implements the org-backup-engine command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"org-backup-engine/internal/config"
	"org-backup-engine/internal/display"
)

// CLI flag variables
var (
	cfgFile string
	orgID   string
	verbose bool
	quiet   bool
	noColor bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "org-backup-engine",
	Short: "Multi-tenant backup and restore engine for organization data",
	Long: `org-backup-engine captures per-organization snapshots of tenant data
into portable archives and restores them with conflict resolution, safety
backups and rollback.

Every command operates on behalf of a single organization, selected with
the --org flag. Archives only ever contain rows belonging to that
organization.

Examples:
  # Take a backup of everything the organization owns
  org-backup-engine backup create --org=org-acme --name="Before migration"

  # Back up only campaign and audience data to S3
  org-backup-engine backup create --org=org-acme --name="Campaigns" \
                    --categories=campaigns,audiences --disk=s3 --encrypt

  # Inspect what restoring a backup would face
  org-backup-engine restore analyze --org=org-acme <backup-id>

  # Run the schedule dispatcher as a daemon
  org-backup-engine serve --config=/etc/org-backup-engine.yaml`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./org-backup-engine.yaml)")
	rootCmd.PersistentFlags().StringVar(&orgID, "org", "", "organization id the command acts for")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}

// requireOrg fails fast when a tenant-scoped command runs without --org
func requireOrg() error {
	if orgID == "" {
		return fmt.Errorf("--org is required")
	}
	if verbose && quiet {
		return fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
	}
	return nil
}

// newPrinter builds the terminal printer honoring --no-color
func newPrinter() *display.Printer {
	if noColor {
		return display.NewPrinter(os.Stdout, display.NewPlainColorSystem())
	}
	return display.NewPrinter(os.Stdout, display.NewColorSystem())
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("org-backup-engine version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
			fmt.Printf("Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand creates the config subcommand for generating a sample
// configuration file or dumping the effective configuration.
func createConfigCommand() *cobra.Command {
	var effective bool
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file for use with the --config flag,
or dump the effective configuration after defaults and environment
overrides with --effective.

Examples:
  org-backup-engine config > org-backup-engine.yaml
  org-backup-engine config --effective --config=/etc/org-backup-engine.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !effective {
				fmt.Print(sampleConfig)
				return nil
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			rendered, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return err
			}
			fmt.Print(string(rendered))
			return nil
		},
	}
	configCmd.Flags().BoolVar(&effective, "effective", false, "print the loaded configuration instead of the sample")
	return configCmd
}

const sampleConfig = `# org-backup-engine configuration file

log_level: normal           # quiet, normal, verbose, debug
log_file: ""                # optional log file path (empty = stdout)

# Database holding the tenant data being backed up
tenant_db:
  host: localhost
  port: 3306
  username: app
  password: ""              # prefer ORG_BACKUP_TENANT_DB_PASSWORD
  database: tenant_data
  timeout: 30s

# Database holding the engine's own bookkeeping tables
metadata_db:
  host: localhost
  port: 3306
  username: engine
  password: ""              # prefer ORG_BACKUP_METADATA_DB_PASSWORD
  database: backup_meta
  timeout: 30s

# Table discovery
discovery:
  schemas:
    - tenant_data
  tenant_column: org_id
  excluded_tables: []       # bookkeeping tables are always excluded
  category_mapping: {}      # category -> explicit table list
  category_patterns: {}     # category -> table name substrings

# Archive storage disks. The first entry is the default.
storage:
  - disk: local
    local:
      base_path: /var/lib/org-backups
  # - disk: s3
  #   s3:
  #     bucket: org-backups
  #     region: eu-west-1
  # - disk: gcs
  #   gcs:
  #     bucket: org-backups
  # - disk: azure
  #   azure:
  #     account_name: orgbackups
  #     container: archives

# Archive encryption
encryption:
  enabled: false
  key_source: env           # env or file
  key_env_var: ORG_BACKUP_MASTER_KEY
  key_path: ""

# Background job pool
workers:
  count: 4
  queue_size: 64
  job_timeout: 30m

backup:
  default_compression: gzip # none, gzip, lz4, zstd
  archive_path_prefix: org_backups
  chunk_size: 1000
  write_batch_size: 500

restore:
  id_column: id
  rollback_window: 24h

# Recurring backup dispatcher (serve command)
schedule:
  enabled: true
  poll_interval: 1m

# Subscription tiers
plans:
  default: free             # free, basic, pro, enterprise
  overrides: {}             # organization id -> tier

# All options can be set via environment variables with the ORG_BACKUP_
# prefix, e.g. ORG_BACKUP_TENANT_DB_HOST=db.internal
`
