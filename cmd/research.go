package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var researchForce bool

var researchCmd = &cobra.Command{
	Use:   "research <prospect-id>",
	Short: "Enrich a prospect and write its research brief",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("pipeline"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Enricher.Enrich(ctx, args[0], researchForce)
		if err != nil {
			return eris.Wrap(err, "enrich")
		}

		zap.L().Info("research ready",
			zap.String("prospect_id", rec.ProspectID),
			zap.Bool("ai_generated", rec.AIGenerated),
			zap.Float64("turnover_low", rec.TurnoverCostLow),
			zap.Float64("turnover_high", rec.TurnoverCostHigh),
			zap.Time("expires_at", rec.ExpiresAt),
		)
		fmt.Printf("Summary: %s\nHook: %s\n", rec.Summary, rec.PersonalizationHook)
		return nil
	},
}

func init() {
	researchCmd.Flags().BoolVar(&researchForce, "force", false, "regenerate even if a fresh record exists")
	rootCmd.AddCommand(researchCmd)
}
