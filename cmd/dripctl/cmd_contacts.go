package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/unclebandit/dripmail-backend/internal/queue"
	"github.com/unclebandit/dripmail-backend/internal/service"
)

var (
	addReq       service.AddContactRequest
	page         int
	pageSize     int
	statusFilter string
	enqueue      bool
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a contact to the campaign",
	Long: `Add a contact in the pending state. With SEND_ON_CREATE the first
drip goes out straight away.`,
	Annotations: map[string]string{needsMail: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c, err := cli.Service.AddContact(ctx, addReq)
		if err != nil {
			return err
		}
		return printJSON(cmd, c)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		contacts, pagination, err := cli.Service.ListContacts(ctx, page, pageSize, statusFilter)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]interface{}{"data": contacts, "pagination": pagination})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one contact",
	Args:  cobra.ExactArgs(1),
	RunE: withContactID(func(ctx context.Context, id int64) (any, error) {
		return cli.Service.GetContact(ctx, id)
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a contact and its content",
	Args:  cobra.ExactArgs(1),
	RunE: withContactID(func(ctx context.Context, id int64) (any, error) {
		if err := cli.Service.DeleteContact(ctx, id); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": id}, nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a contact's drip progress",
	Args:  cobra.ExactArgs(1),
	RunE: withContactID(func(ctx context.Context, id int64) (any, error) {
		return cli.Service.GetDripStatus(ctx, id)
	}),
}

var stopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Take a contact out of the campaign",
	Args:  cobra.ExactArgs(1),
	RunE: withContactID(func(ctx context.Context, id int64) (any, error) {
		return cli.Service.StopContact(ctx, id)
	}),
}

var contentCmd = &cobra.Command{
	Use:   "content <id>",
	Short: "Show what was sent to and received from a contact",
	Args:  cobra.ExactArgs(1),
	RunE: withContactID(func(ctx context.Context, id int64) (any, error) {
		return cli.Service.GetContent(ctx, id)
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show campaign totals and reply rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		stats, err := cli.Service.GetStats(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}

var triggerDripsCmd = &cobra.Command{
	Use:         "trigger-drips",
	Short:       "Run one drip tick now",
	Annotations: map[string]string{needsMail: "true"},
	RunE:        runTrigger(queue.TriggerDrips),
}

var checkRepliesCmd = &cobra.Command{
	Use:         "check-replies",
	Short:       "Run one reply tick now",
	Annotations: map[string]string{needsMail: "true"},
	RunE:        runTrigger(queue.TriggerReplies),
}

var processContactsCmd = &cobra.Command{
	Use:   "process-contacts",
	Short: "Infer missing industries and start those contacts' drips",
	Long: `Fill the industry of pending contacts that have a company name and
website but no industry, then send each one its first drip.`,
	Annotations: map[string]string{needsMail: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		report, err := cli.Service.ProcessContactsWithoutIndustry(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

func init() {
	addCmd.Flags().StringVar(&addReq.Name, "name", "", "Contact name (required)")
	addCmd.Flags().StringVar(&addReq.Email, "email", "", "Contact email (required)")
	addCmd.Flags().StringVar(&addReq.CompanyName, "company", "", "Company name")
	addCmd.Flags().StringVar(&addReq.CompanyURL, "company-url", "", "Company website")
	addCmd.Flags().StringVar(&addReq.Industry, "industry", "", "Industry (inferred when empty)")
	addCmd.MarkFlagRequired("name")
	addCmd.MarkFlagRequired("email")

	listCmd.Flags().IntVar(&page, "page", 1, "Page number")
	listCmd.Flags().IntVar(&pageSize, "page-size", 20, "Contacts per page")
	listCmd.Flags().StringVar(&statusFilter, "status", "", "Comma separated statuses")

	for _, c := range []*cobra.Command{triggerDripsCmd, checkRepliesCmd} {
		c.Flags().BoolVar(&enqueue, "enqueue", false, "Publish the trigger to the worker queue instead of running it here")
	}
}

// runTrigger runs the tick in this process, or publishes it for a worker
// with --enqueue.
func runTrigger(kind queue.TriggerKind) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		if enqueue {
			if cli.Queue == nil {
				return fmt.Errorf("--enqueue needs AMQP_URL")
			}
			trigger := queue.TriggerCommand{Kind: kind, RequestedBy: "dripctl", RequestedAt: time.Now().UTC()}
			if err := cli.Queue.Publish(trigger.Topic(), trigger); err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"status": "queued", "kind": string(kind)})
		}

		var (
			report *service.BatchReport
			err    error
		)
		if kind == queue.TriggerReplies {
			report, err = cli.Service.CheckReplies(ctx)
		} else {
			report, err = cli.Service.TriggerDrips(ctx)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	}
}

func withContactID(fn func(ctx context.Context, id int64) (any, error)) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid contact id %q", args[0])
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		v, err := fn(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(cmd, v)
	}
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
