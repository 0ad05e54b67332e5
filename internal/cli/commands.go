package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/cardbook/internal/service"
	"github.com/mmeshcher/cardbook/internal/transfer"
)

// AppVersion записывается в метаданные экспорта.
const AppVersion = "1.0.0"

// ─── renew ──────────────────────────────────────────────────────────────────

func newRenewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "renew",
		Short: "Run the automatic renewal pass once",
		Long: `Scan every credit and roll the elapsed ones into their current period.
Manual credits and credits still inside their period are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}

			report, err := svc.ProcessAutomaticRenewals(cmd.Context())
			if err != nil {
				return fmt.Errorf("renewal pass: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d credits, renewed %d, skipped %d\n",
				report.Checked, report.Renewed, report.Skipped)
			return nil
		},
	}
}

// ─── cards ──────────────────────────────────────────────────────────────────

func newCardsCmd(a *app) *cobra.Command {
	cards := &cobra.Command{
		Use:   "cards",
		Short: "Inspect stored cards",
	}

	cards.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored cards with their credit totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}

			list, err := svc.ListCards(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No cards.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNICKNAME\tTYPE\tCREDITS\tTOTAL")
			for _, c := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					c.ID, c.Nickname, c.CardType, len(c.Credits), c.TotalValue().StringFixed(2))
			}
			return tw.Flush()
		},
	})
	return cards
}

// ─── catalog ────────────────────────────────────────────────────────────────

func newCatalogCmd(a *app) *cobra.Command {
	cat := &cobra.Command{
		Use:   "catalog",
		Short: "Browse the card catalog",
	}

	cat.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List card types known to the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := a.catalog.Info()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Catalog %s (%d cards)\n", info.Version, info.CardCount)
			for _, t := range a.catalog.ListCardTypes() {
				fmt.Fprintf(out, "  %s\n", t)
			}
			return nil
		},
	})

	cat.AddCommand(&cobra.Command{
		Use:   "show CARD_TYPE",
		Short: "Show the credits a card type comes with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, ok := a.catalog.Card(args[0])
			if !ok {
				return fmt.Errorf("card type %q not found in catalog", args[0])
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n  issuer: %s\n  network: %s\n  annual fee: %d\n",
				entry.CardType, entry.Issuer, entry.Network, entry.AnnualFee)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "  CREDIT\tAMOUNT\tFREQUENCY\tCATEGORY")
			for _, cr := range entry.Credits {
				fmt.Fprintf(tw, "  %s\t%s %s\t%s\t%s\n",
					cr.Name, cr.Amount.StringFixed(2), cr.Currency, cr.Frequency, cr.Category)
			}
			return tw.Flush()
		},
	})
	return cat
}

// ─── export ─────────────────────────────────────────────────────────────────

func newExportCmd(a *app) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export cards and credits as JSON or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}

			cards, err := svc.ListCards(cmd.Context())
			if err != nil {
				return err
			}

			exporter := transfer.Exporter{
				AppVersion:      AppVersion,
				DatabaseVersion: a.catalog.Info().Version,
				Location:        a.engine.Location(),
				Now:             a.engine.Now,
			}
			data, err := exporter.Export(transfer.Format(format), cards)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d cards to %s\n", len(cards), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(transfer.FormatJSON), "json, csv-cards or csv-credits")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, stdout when empty")
	return cmd
}

// ─── import ─────────────────────────────────────────────────────────────────

func newImportCmd(a *app) *cobra.Command {
	var (
		format   string
		conflict string
	)

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import cards from a JSON export or a CSV card list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolution, err := service.ParseConflictResolution(conflict)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}

			importer := transfer.Importer{Location: a.engine.Location()}
			summary, err := importer.Import(transfer.Format(format), data, a.catalog)
			if err != nil {
				return err
			}

			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}

			result, err := svc.ImportCards(cmd.Context(), summary.Cards, resolution)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d cards and %d credits, %d duplicates skipped, %d conflicts resolved\n",
				result.CardsImported, result.CreditsImported, result.DuplicatesSkipped, result.ConflictsResolved)
			for _, w := range append(summary.Warnings, result.Warnings...) {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "json or csv, detected from content when empty")
	cmd.Flags().StringVar(&conflict, "conflict", string(service.ConflictSkip), "skip, replace or merge")
	return cmd
}
