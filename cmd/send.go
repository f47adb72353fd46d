package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/retainly/outreach-cli/internal/model"
	"github.com/retainly/outreach-cli/internal/sender"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Dispatch outreach emails",
}

var sendOneCmd = &cobra.Command{
	Use:   "one <email-id>",
	Short: "Dispatch a single email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("send"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Sender.SendOne(ctx, args[0]); err != nil {
			return eris.Wrap(err, "send")
		}
		zap.L().Info("email sent", zap.String("email_id", args[0]))
		return nil
	},
}

var sendSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Dispatch all due scheduled emails across campaigns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("send"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Sender.ProcessScheduled(ctx, cfg.Outreach.SendBatchLimit)
		if err != nil {
			return eris.Wrap(err, "sweep")
		}
		zap.L().Info("sweep complete",
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
		)
		return nil
	},
}

var sendCampaignCmd = &cobra.Command{
	Use:   "campaign <campaign-id>",
	Short: "Dispatch a campaign's approved and due emails up to its daily cap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("send"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Sender.SendCampaignBatch(ctx, args[0], cfg.Outreach.SendBatchLimit)
		if err != nil {
			return eris.Wrap(err, "send campaign")
		}
		zap.L().Info("campaign batch complete",
			zap.String("campaign_id", args[0]),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
		)
		return nil
	},
}

var emailsCmd = &cobra.Command{
	Use:   "emails",
	Short: "Review and stage outreach emails",
}

var emailsApproveCmd = &cobra.Command{
	Use:   "approve <email-id>",
	Short: "Approve a draft for sending",
	Args:  cobra.ExactArgs(1),
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

		if err := approveEmail(ctx, env, args[0]); err != nil {
			return err
		}
		zap.L().Info("email approved", zap.String("email_id", args[0]))
		return nil
	},
}

var emailsScheduleAt string

var emailsScheduleCmd = &cobra.Command{
	Use:   "schedule <email-id>",
	Short: "Schedule an email for a future send",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		at, err := time.Parse(time.RFC3339, emailsScheduleAt)
		if err != nil {
			return eris.Wrap(err, "parse --at (want RFC3339)")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Sender.Schedule(ctx, args[0], at); err != nil {
			return eris.Wrap(err, "schedule email")
		}
		zap.L().Info("email scheduled",
			zap.String("email_id", args[0]),
			zap.Time("at", at),
		)
		return nil
	},
}

// approveEmail moves a draft to approved; any other status is rejected.
func approveEmail(ctx context.Context, env *appEnv, emailID string) error {
	email, err := env.Store.GetEmail(ctx, emailID)
	if err != nil {
		return eris.Wrap(err, "get email")
	}
	if email == nil {
		return sender.ErrEmailNotFound
	}
	if email.Status != model.EmailStatusDraft {
		return eris.Errorf("email is %s, only drafts can be approved", email.Status)
	}
	if err := env.Store.UpdateEmailStatus(ctx, emailID, model.EmailStatusApproved); err != nil {
		return eris.Wrap(err, "update status")
	}
	return nil
}

func init() {
	sendCmd.AddCommand(sendOneCmd)
	sendCmd.AddCommand(sendSweepCmd)
	sendCmd.AddCommand(sendCampaignCmd)
	rootCmd.AddCommand(sendCmd)

	emailsScheduleCmd.Flags().StringVar(&emailsScheduleAt, "at", "", "RFC3339 send time (required)")
	_ = emailsScheduleCmd.MarkFlagRequired("at")
	emailsCmd.AddCommand(emailsApproveCmd)
	emailsCmd.AddCommand(emailsScheduleCmd)
	rootCmd.AddCommand(emailsCmd)
}
