package cli

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"stealth-trader/internal/models"
	"stealth-trader/internal/notify"
)

// renderPositionsTable prints the open positions as a table. Used after
// shutdown so the operator sees what is still on the book.
func renderPositionsTable(positions []*models.Position) {
	if len(positions) == 0 {
		fmt.Println("No open positions.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Symbol", "Stage", "Qty", "Entry", "Current", "Stop", "Target", "P&L", "P&L %"})

	for _, p := range positions {
		pnl := p.UnrealizedPnL()
		pnlCell := notify.FormatCurrency(pnl)
		if pnl >= 0 {
			pnlCell = text.FgGreen.Sprint(pnlCell)
		} else {
			pnlCell = text.FgRed.Sprint(pnlCell)
		}

		t.AppendRow(table.Row{
			p.Symbol,
			string(p.Stage),
			p.Quantity,
			fmt.Sprintf("%.2f", p.EntryPrice),
			fmt.Sprintf("%.2f", p.CurrentPrice),
			fmt.Sprintf("%.2f", p.StopPrice),
			fmt.Sprintf("%.2f", p.TakeProfitPrice),
			pnlCell,
			fmt.Sprintf("%+.2f%%", p.ProfitPct()*100),
		})
	}

	t.Render()
}
