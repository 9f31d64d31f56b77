package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"expensedash/internal/sheets"
	"expensedash/internal/sheets/google"
	"expensedash/internal/sheets/memory"
)

func exportCmd(e *env) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write your expenses and summary to a Google Sheet",
		Long: `Write all of your expenses followed by the dashboard summary to the
configured Google Sheet, replacing its previous content.

Requires GOOGLE_SPREADSHEET_ID and service account credentials
(GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
GOOGLE_APPLICATION_CREDENTIALS). With --dry-run the sheet is printed as
tab separated values instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			user, err := e.currentUser()
			if err != nil {
				return err
			}

			var exporter sheets.Exporter
			var dry *memory.Exporter
			if dryRun {
				dry = memory.New()
				exporter = dry
			} else {
				cfg := e.app.Config
				if err := cfg.ValidateExport(); err != nil {
					return err
				}
				exporter, err = google.New(ctx, google.Config{
					SpreadsheetID:   cfg.GoogleSpreadsheetID,
					SheetName:       cfg.GoogleSheetName,
					CredentialsJSON: cfg.GoogleCredentialsJSON,
					CredentialsFile: cfg.GoogleCredentialsFile,
				}, e.app.Logger)
				if err != nil {
					return fmt.Errorf("failed to connect to Google Sheets: %w", err)
				}
			}

			records, err := e.app.Records.List(ctx, user.ID)
			if err != nil {
				return err
			}
			grid := sheets.BuildGrid(user, records, e.now())
			if err := exporter.Export(ctx, grid); err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			if dry != nil {
				return dry.WriteTSV(e.stdout)
			}
			fmt.Fprintf(e.stdout, "Exported %d expenses to sheet %q\n", len(records), e.app.Config.GoogleSheetName)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the sheet instead of writing it")
	return cmd
}
