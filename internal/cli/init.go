package cli

import (
	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command: it provisions both collections,
// ensures their indexes, and seeds the configured inboxes. Re-running it
// is safe; already-seeded inboxes are left alone.
func NewInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Provision storage and seed configured inboxes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			system, err := opts.System(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()
			opts.Logger.Info("storage initialized")
			return nil
		},
	}
}
