package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/retainly/outreach-cli/internal/model"
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Manage outreach campaigns",
}

var (
	campaignName     string
	campaignCap      int
	campaignProvider string
	campaignFrom     string
	campaignFromName string
)

var campaignsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a campaign",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		provider := model.MailProviderName(campaignProvider)
		switch provider {
		case model.ProviderSendGrid, model.ProviderResend:
		default:
			return eris.Errorf("unknown provider %q (want sendgrid or resend)", campaignProvider)
		}

		cap := campaignCap
		if cap == 0 {
			cap = cfg.Outreach.DefaultDailyCap
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		created, err := env.Store.CreateCampaign(ctx, model.Campaign{
			Name:         campaignName,
			Status:       model.CampaignStatusActive,
			DailySendCap: cap,
			MailProvider: provider,
			FromEmail:    campaignFrom,
			FromName:     campaignFromName,
		})
		if err != nil {
			return eris.Wrap(err, "create campaign")
		}

		zap.L().Info("campaign created",
			zap.String("id", created.ID),
			zap.String("name", created.Name),
			zap.Int("daily_cap", created.DailySendCap),
		)
		fmt.Println(created.ID)
		return nil
	},
}

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		campaigns, err := env.Store.ListCampaigns(ctx)
		if err != nil {
			return eris.Wrap(err, "list campaigns")
		}

		for _, c := range campaigns {
			fmt.Printf("%s\t%s\t%s\tcap=%d\topens=%d\treplies=%d\n",
				c.ID, c.Name, c.Status, c.DailySendCap, c.OpenCount, c.ReplyCount)
		}
		return nil
	},
}

func setCampaignStatus(cmd *cobra.Command, id string, status model.CampaignStatus) error {
	ctx := cmd.Context()
	if err := cfg.Validate("store"); err != nil {
		return err
	}

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Store.SetCampaignStatus(ctx, id, status); err != nil {
		return eris.Wrap(err, "set campaign status")
	}
	zap.L().Info("campaign status updated",
		zap.String("id", id),
		zap.String("status", string(status)),
	)
	return nil
}

var campaignsPauseCmd = &cobra.Command{
	Use:   "pause <campaign-id>",
	Short: "Pause a campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCampaignStatus(cmd, args[0], model.CampaignStatusPaused)
	},
}

var campaignsResumeCmd = &cobra.Command{
	Use:   "resume <campaign-id>",
	Short: "Resume a paused campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCampaignStatus(cmd, args[0], model.CampaignStatusActive)
	},
}

var campaignsEnrollCmd = &cobra.Command{
	Use:   "enroll <campaign-id> <prospect-id>",
	Short: "Enroll a prospect into a campaign",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		prospect, err := env.Store.GetProspect(ctx, args[1])
		if err != nil {
			return eris.Wrap(err, "get prospect")
		}
		if prospect == nil {
			return eris.New("prospect not found")
		}
		if !prospect.Contactable() {
			return eris.New("prospect is not contactable")
		}

		link, err := env.Store.EnrollProspect(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "enroll prospect")
		}

		zap.L().Info("prospect enrolled",
			zap.String("link_id", link.ID),
			zap.String("campaign_id", link.CampaignID),
			zap.String("prospect_id", link.ProspectID),
		)
		fmt.Println(link.ID)
		return nil
	},
}

func init() {
	campaignsCreateCmd.Flags().StringVar(&campaignName, "name", "", "campaign name (required)")
	campaignsCreateCmd.Flags().IntVar(&campaignCap, "daily-cap", 0, "daily send cap (default from config)")
	campaignsCreateCmd.Flags().StringVar(&campaignProvider, "provider", "sendgrid", "mail provider: sendgrid or resend")
	campaignsCreateCmd.Flags().StringVar(&campaignFrom, "from", "", "sender email (required)")
	campaignsCreateCmd.Flags().StringVar(&campaignFromName, "from-name", "", "sender display name")
	_ = campaignsCreateCmd.MarkFlagRequired("name")
	_ = campaignsCreateCmd.MarkFlagRequired("from")

	campaignsCmd.AddCommand(campaignsCreateCmd)
	campaignsCmd.AddCommand(campaignsListCmd)
	campaignsCmd.AddCommand(campaignsPauseCmd)
	campaignsCmd.AddCommand(campaignsResumeCmd)
	campaignsCmd.AddCommand(campaignsEnrollCmd)
	rootCmd.AddCommand(campaignsCmd)
}
