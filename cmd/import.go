package main

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/retainly/outreach-cli/internal/model"
)

var importCSVPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import prospects from CSV",
	Long:  "Reads a CSV with email, first_name, last_name, title, company_name, industry, employee_count columns and upserts prospects keyed by email.",
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

		prospects, skipped, err := readProspectsCSV(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "read csv")
		}

		imported, err := env.Store.ImportProspects(ctx, prospects)
		if err != nil {
			return eris.Wrap(err, "import prospects")
		}

		zap.L().Info("import complete",
			zap.Int64("imported", imported),
			zap.Int("skipped", skipped),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

// readProspectsCSV parses the import file. Rows without a usable email are
// skipped and counted, not fatal.
func readProspectsCSV(path string) ([]model.Prospect, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, eris.Wrap(err, "open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, 0, eris.Wrap(err, "read header")
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["email"]; !ok {
		return nil, 0, eris.New("csv missing email column")
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var prospects []model.Prospect
	skipped := 0
	seen := make(map[string]bool)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, eris.Wrap(err, "read row")
		}

		email := model.NormalizeEmail(field(row, "email"))
		if email == "" || !strings.Contains(email, "@") || seen[email] {
			skipped++
			continue
		}
		seen[email] = true

		employeeCount := 0
		if raw := field(row, "employee_count"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				employeeCount = n
			}
		}

		prospects = append(prospects, model.Prospect{
			Email:         email,
			FirstName:     field(row, "first_name"),
			LastName:      field(row, "last_name"),
			Title:         field(row, "title"),
			CompanyName:   field(row, "company_name"),
			Industry:      field(row, "industry"),
			EmployeeCount: employeeCount,
			Status:        model.ProspectStatusImported,
		})
	}
	return prospects, skipped, nil
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
