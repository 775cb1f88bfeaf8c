package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/mailcast/internal/api"
	"github.com/foxzi/mailcast/internal/client"
	"github.com/foxzi/mailcast/internal/models"
)

var (
	deliveriesStatus string
	outputJSON       bool
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Control campaigns on a running server",
}

var campaignStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start sending a draft, scheduled or paused campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(args[0], (*client.Client).StartCampaign)
	},
}

var campaignPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause a sending campaign at the next recipient boundary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(args[0], (*client.Client).PauseCampaign)
	},
}

var campaignResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(args[0], (*client.Client).ResumeCampaign)
	},
}

var campaignStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show campaign status and delivery counters",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignStatus,
}

var campaignDeliveriesCmd = &cobra.Command{
	Use:   "deliveries <id>",
	Short: "List delivery records of a campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignDeliveries,
}

var campaignDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a campaign and its delivery records",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignDelete,
}

func init() {
	campaignDeliveriesCmd.Flags().StringVar(&deliveriesStatus, "status", "", "filter by status (pending, sent, failed)")
	campaignCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print raw JSON")
	addRemoteFlags(campaignCmd)

	campaignCmd.AddCommand(campaignStartCmd, campaignPauseCmd, campaignResumeCmd,
		campaignStatusCmd, campaignDeliveriesCmd, campaignDeleteCmd)
	rootCmd.AddCommand(campaignCmd)
}

type actionFunc func(c *client.Client, ctx context.Context, id string) (*api.ActionResponse, error)

func runAction(id string, fn actionFunc) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
	defer cancel()

	resp, err := fn(c, ctx, id)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(resp)
	}
	fmt.Printf("Campaign %s: %s\n", resp.ID, resp.Status)
	return nil
}

func runCampaignStatus(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
	defer cancel()

	campaign, err := c.GetCampaign(ctx, args[0])
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(campaign)
	}

	fmt.Printf("Campaign: %s\n", campaign.ID)
	if campaign.Name != "" {
		fmt.Printf("  Name: %s\n", campaign.Name)
	}
	fmt.Printf("  Status: %s", campaign.Status)
	if campaign.Running {
		fmt.Printf(" (running)")
	}
	fmt.Println()
	if campaign.ScheduledAt != nil {
		fmt.Printf("  Scheduled: %s\n", campaign.ScheduledAt.Format(time.RFC3339))
	}
	fmt.Printf("  Recipients: %d\n", campaign.Total)
	fmt.Printf("  Sent: %d\n", campaign.Sent)
	fmt.Printf("  Failed: %d\n", campaign.Failed)
	fmt.Printf("  Pending: %d\n", campaign.Deliveries.Pending)
	if campaign.SentAt != nil {
		fmt.Printf("  Finished: %s\n", campaign.SentAt.Format(time.RFC3339))
	}
	return nil
}

func runCampaignDeliveries(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
	defer cancel()

	resp, err := c.Deliveries(ctx, args[0], models.DeliveryStatus(deliveriesStatus))
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(resp)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RECIPIENT\tEMAIL\tSTATUS\tSENT\tERROR")
	for _, d := range resp.Deliveries {
		sent := "-"
		if d.SentAt != nil {
			sent = d.SentAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.RecipientID, d.RecipientEmail, d.Status, sent, d.Error)
	}
	return w.Flush()
}

func runCampaignDelete(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
	defer cancel()

	if err := c.DeleteCampaign(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Campaign %s deleted\n", args[0])
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
