package cli

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/digitalbazaar/bedrock-ldn-inbox/message"
)

// NewMessageCommand creates the message command group.
func NewMessageCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Manage LDN messages",
	}
	cmd.AddCommand(newMessageAddCommand(opts))
	cmd.AddCommand(newMessageGetCommand(opts))
	cmd.AddCommand(newMessageListCommand(opts))
	cmd.AddCommand(newMessageMoveCommand(opts))
	cmd.AddCommand(newMessageRemoveCommand(opts))
	return cmd
}

func newMessageAddCommand(opts *RootOptions) *cobra.Command {
	var id, inboxID, document, extraMeta string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "File a new message in an inbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := parseJSONFlag(document, "document")
			if err != nil {
				return err
			}
			extra, err := parseJSONFlag(extraMeta, "meta")
			if err != nil {
				return err
			}
			if doc == nil {
				doc = map[string]any{}
			}
			if id == "" {
				id = "urn:uuid:" + uuid.New().String()
			}
			doc["id"] = id

			system, err := opts.System(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()

			record, err := system.Messages.Add(cmd.Context(), opts.Actor(), doc, inboxID, extra)
			if err != nil {
				return err
			}
			return printJSON(record)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "message id; defaults to a new urn:uuid")
	cmd.Flags().StringVar(&inboxID, "inbox", "", "id of the inbox to file the message in")
	cmd.Flags().StringVar(&document, "document", "", "message document as a JSON object")
	cmd.Flags().StringVar(&extraMeta, "meta", "", "extra meta fields as a JSON object")
	cmd.MarkFlagRequired("inbox")
	return cmd
}

func newMessageGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Get a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			system, err := opts.System(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()

			record, err := system.Messages.Get(cmd.Context(), opts.Actor(), args[0])
			if err != nil {
				return err
			}
			return printJSON(record)
		},
	}
}

func newMessageListCommand(opts *RootOptions) *cobra.Command {
	var inboxID string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			system, err := opts.System(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()

			records, err := system.Messages.List(cmd.Context(), opts.Actor(),
				message.ListOptions{Inbox: inboxID, Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(records)
		},
	}
	cmd.Flags().StringVar(&inboxID, "inbox", "", "list only messages in this inbox")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records")
	return cmd
}

func newMessageMoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move ID TARGET_INBOX",
		Short: "Move a message to another inbox",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			system, err := opts.System(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()
			return system.Messages.Move(cmd.Context(), opts.Actor(), args[0], args[1],
				message.MoveOptions{})
		},
	}
}

func newMessageRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Mark a message as deleted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			system, err := opts.System(cmd.Context())
			if err != nil {
				return err
			}
			defer system.Close()
			return system.Messages.Remove(cmd.Context(), opts.Actor(), args[0])
		},
	}
}
