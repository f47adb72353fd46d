package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var generateCmd = &cobra.Command{
	Use:   "generate <link-id>",
	Short: "Generate the draft email sequence for a campaign link",
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

		drafts, err := env.Generator.Generate(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "generate")
		}

		if len(drafts) == 0 {
			zap.L().Info("no free positions, nothing generated", zap.String("link_id", args[0]))
			return nil
		}

		for _, d := range drafts {
			fmt.Printf("[%d] %s\n", d.Position, d.Subject)
		}
		zap.L().Info("sequence generated",
			zap.String("link_id", args[0]),
			zap.Int("drafts", len(drafts)),
			zap.Bool("ai_generated", drafts[0].AIGenerated),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
