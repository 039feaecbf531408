// Package report renders the remote-day balance statement as PDF.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/rewards"
)

// StatementData is everything printed on one statement.
type StatementData struct {
	EmployeeName  string
	EmployeeEmail string
	TeamName      string
	Policy        rewards.TeamPolicy
	Balance       rewards.Balance
	Transactions  []generic.Transaction
	GeneratedAt   time.Time
}

// WriteStatement renders data as an A4 PDF to w.
func WriteStatement(w io.Writer, data StatementData) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Remote day statement", true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Remote day statement")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Employee: %s (%s)", data.EmployeeName, data.EmployeeEmail))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Team: %s", data.TeamName))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Generated: %s", data.GeneratedAt.Format("2006-01-02 15:04 MST")))
	pdf.Ln(7)
	pdf.MultiCell(0, 6, rewards.Describe(data.Policy), "", "L", false)
	pdf.Ln(4)

	b := data.Balance
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Current: %s days", b.Current.Value))
	pdf.Ln(7)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Earned: %s   Used: %s   Streak: %d   Office days: %d",
		b.TotalEarned.Value, b.TotalUsed.Value, b.Streak, b.OfficeDays))
	pdf.Ln(12)

	widths := []float64{28, 30, 22, 100}
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range []string{"Date", "Type", "Days", "Reason"} {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	if len(data.Transactions) == 0 {
		pdf.CellFormat(180, 7, "No transactions yet", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}
	for _, tx := range data.Transactions {
		reason := tx.Reason
		if len(reason) > 60 {
			reason = reason[:57] + "..."
		}
		pdf.CellFormat(widths[0], 7, tx.EffectiveAt.String(), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, string(tx.Type), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 7, tx.Delta.Value.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 7, reason, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render statement: %w", err)
	}
	return nil
}
