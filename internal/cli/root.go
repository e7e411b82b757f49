// Package cli implements the ldn-inbox admin command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/digitalbazaar/bedrock-ldn-inbox/bootstrap"
	"github.com/digitalbazaar/bedrock-ldn-inbox/config"
	"github.com/digitalbazaar/bedrock-ldn-inbox/permission"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	ActorID    string
	Admin      bool
	Logger     *slog.Logger
}

// NewRootCommand creates the root command for the ldn-inbox CLI.
func NewRootCommand(logger *slog.Logger) *cobra.Command {
	opts := &RootOptions{Logger: logger}

	cmd := &cobra.Command{
		Use:           "ldn-inbox",
		Short:         "Manage LDN inboxes and messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.ActorID, "actor", "", "actor identity; empty runs as the system caller")
	cmd.PersistentFlags().BoolVar(&opts.Admin, "admin", false, "grant the actor unscoped capabilities")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewInboxCommand(opts))
	cmd.AddCommand(NewMessageCommand(opts))

	return cmd
}

// System constructs the access layer from the configured backend.
func (o *RootOptions) System(ctx context.Context) (*bootstrap.System, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		var err error
		cfg, err = config.Load(o.ConfigPath)
		if err != nil {
			return nil, err
		}
	}
	return bootstrap.New(ctx, cfg, permission.RoleOracle{}, o.Logger)
}

// Actor builds the caller identity from the global flags. Without --actor
// the commands run as the system caller and bypass all checks; with it,
// the actor holds every capability, scoped to its own identity unless
// --admin widens the grant.
func (o *RootOptions) Actor() *permission.Actor {
	if o.ActorID == "" {
		return nil
	}
	role := permission.Role{
		Name: "ldn-inbox.cli",
		Capabilities: []permission.Capability{
			permission.InboxAccess, permission.InboxInsert, permission.InboxRemove,
			permission.MessageAccess, permission.MessageInsert, permission.MessageRemove,
		},
	}
	if !o.Admin {
		role.Resources = []string{o.ActorID}
	}
	return &permission.Actor{ID: o.ActorID, Roles: []permission.Role{role}}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// parseJSONFlag decodes an optional JSON object flag value.
func parseJSONFlag(value, flag string) (map[string]any, error) {
	if value == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(value), &out); err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return out, nil
}

// Execute runs the CLI.
func Execute() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	if err := NewRootCommand(logger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
