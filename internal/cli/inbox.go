package cli

import (
	"github.com/spf13/cobra"

	"github.com/digitalbazaar/bedrock-ldn-inbox/inbox"
)

// NewInboxCommand creates the inbox command group.
func NewInboxCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Manage LDN inboxes",
	}
	cmd.AddCommand(newInboxAddCommand(opts))
	cmd.AddCommand(newInboxGetCommand(opts))
	cmd.AddCommand(newInboxListCommand(opts))
	cmd.AddCommand(newInboxRemoveCommand(opts))
	return cmd
}

func newInboxAddCommand(opts *RootOptions) *cobra.Command {
	var owner, document string

	cmd := &cobra.Command{
		Use:   "add ID",
		Short: "Add a new inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := parseJSONFlag(document, "document")
			if err != nil {
				return err
			}
			if doc == nil {
				doc = map[string]any{}
			}
			doc["id"] = args[0]

			system, err := opts.System(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()

			record, err := system.Inboxes.Add(cmd.Context(), opts.Actor(), doc, owner)
			if err != nil {
				return err
			}
			return printJSON(record)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "identity that controls the inbox")
	cmd.Flags().StringVar(&document, "document", "", "inbox document as a JSON object")
	cmd.MarkFlagRequired("owner")
	return cmd
}

func newInboxGetCommand(opts *RootOptions) *cobra.Command {
	var messageList bool

	cmd := &cobra.Command{
		Use:   "get ID",
		Short: "Get an inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			system, err := opts.System(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()

			record, err := system.Inboxes.Get(cmd.Context(), opts.Actor(), args[0],
				inbox.GetOptions{MessageList: messageList})
			if err != nil {
				return err
			}
			return printJSON(record)
		},
	}
	cmd.Flags().BoolVar(&messageList, "messages", false, "include the ids of the inbox's active messages")
	return cmd
}

func newInboxListCommand(opts *RootOptions) *cobra.Command {
	var owner string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List inboxes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			system, err := opts.System(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()

			records, err := system.Inboxes.List(cmd.Context(), opts.Actor(),
				inbox.ListOptions{Owner: owner, Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(records)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "list only inboxes with this owner")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records")
	return cmd
}

func newInboxRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Mark an inbox as deleted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			system, err := opts.System(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()
			return system.Inboxes.Remove(cmd.Context(), opts.Actor(), args[0])
		},
	}
}
