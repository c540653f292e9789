package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/spacesync/internal/store"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Database string
}

// MigrateResult is the outcome of a migration.
type MigrateResult struct {
	Database      string `json:"database"`
	Dialect       string `json:"dialect"`
	SchemaVersion int    `json:"schemaVersion"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: `Create or upgrade the database schema and print its version.

Example:
  spacesync migrate --db ./spacesync.db
  spacesync migrate --db postgres://sync@localhost/sync?sslmode=disable --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "database DSN (overrides config)")

	return cmd
}

func runMigrate(opts *MigrateOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	st, err := store.Open(cfg.Database)
	if err != nil {
		_ = out.Failure("E_DATABASE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	version, err := st.SchemaVersion(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read schema version", err)
	}

	result := MigrateResult{
		Database:      cfg.Database,
		Dialect:       string(st.Dialect()),
		SchemaVersion: version,
	}
	return out.Success(result, fmt.Sprintf("%s (%s): schema version %d", result.Database, result.Dialect, result.SchemaVersion))
}
