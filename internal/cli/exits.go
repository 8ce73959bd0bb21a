package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"stealth-trader/internal/config"
	"stealth-trader/internal/models"
	"stealth-trader/internal/notify"
	"stealth-trader/internal/store"
)

func newExitsCmd(app *App) *cobra.Command {
	var (
		symbol string
		reason string
		since  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "exits",
		Short: "Show exit history",
		Long:  "Query recorded exit events from the audit store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath := filepath.Join(config.DefaultConfigDir(), "stealth-trader.db")
			events, err := store.NewSQLiteStore(dbPath)
			if err != nil {
				return fmt.Errorf("opening event store: %w", err)
			}
			defer events.Close()

			filter := store.ExitFilter{
				Symbol: strings.ToUpper(symbol),
				Reason: models.ExitReason(strings.ToUpper(reason)),
				Limit:  limit,
			}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("parsing --since: %w", err)
				}
				filter.StartTime = time.Now().Add(-d)
			}

			exits, err := events.GetExits(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("querying exits: %w", err)
			}
			renderExitsTable(exits)
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().StringVar(&reason, "reason", "", "filter by exit reason")
	cmd.Flags().StringVar(&since, "since", "", "only exits within this duration (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")

	return cmd
}

func renderExitsTable(exits []models.ExitEvent) {
	if len(exits) == 0 {
		fmt.Println("No recorded exits.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Time", "Symbol", "Reason", "Exit Price", "P&L", "Stage", "Held"})

	var totalPnL float64
	for _, ev := range exits {
		pnlCell := notify.FormatCurrency(ev.RealizedPnL)
		if ev.RealizedPnL >= 0 {
			pnlCell = text.FgGreen.Sprint(pnlCell)
		} else {
			pnlCell = text.FgRed.Sprint(pnlCell)
		}
		totalPnL += ev.RealizedPnL

		t.AppendRow(table.Row{
			ev.Timestamp.Format("2006-01-02 15:04"),
			ev.Symbol,
			string(ev.Reason),
			fmt.Sprintf("%.2f", ev.ExitPrice),
			pnlCell,
			string(ev.StageAtExit),
			ev.HoldingDuration.Round(time.Minute),
		})
	}

	t.AppendFooter(table.Row{"", "", "", "Total", notify.FormatCurrency(totalPnL), "", ""})
	t.Render()
}
