// Package expenses drives the expense-report lifecycle: monthly line items
// are entered into a report under a per-category monthly ceiling, receipts
// are uploaded to the wallet and attached to the expenses that lack one, and
// the report is submitted once the operator confirms. Every remote effect is
// recorded in the ledger so a rerun never enters, attaches or submits twice.
package expenses

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/entrhq/courier/pkg/config"
	"github.com/entrhq/courier/pkg/ledger"
)

// DateFormat is how the expense editor expects dates to be typed.
const DateFormat = "1/2/2006"

// Expense is one line item planned for one month.
type Expense struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
}

// Period is the budget month the expense counts against.
func (e Expense) Period() string {
	return ledger.Period(e.Date)
}

// Key is the expense's ledger key.
func (e Expense) Key() string {
	return ExpenseKey(e.Period(), e.Description)
}

// ExpenseKey identifies a line item in a month.
func ExpenseKey(period, description string) string {
	return "expense|" + period + "|" + description
}

// ReceiptKey identifies an uploaded receipt by content digest.
func ReceiptKey(digest string) string {
	return "receipt|" + digest
}

// AttachKey identifies a receipt attached to one expense row of a report.
func AttachKey(reportID, rowText string) string {
	return "attach|" + reportID + "|" + oneLine(rowText)
}

// SubmitKey identifies a report submission.
func SubmitKey(reportID string) string {
	return "submit|" + reportID
}

// ExpenseDay is the day of month an item is dated: phone bills on the 5th,
// internet on the 17th, anything else mid-month.
func ExpenseDay(description string) int {
	d := strings.ToLower(description)
	switch {
	case strings.Contains(d, "cell"), strings.Contains(d, "phone"):
		return 5
	case strings.Contains(d, "internet"):
		return 17
	}
	return 15
}

// Plan lists the expenses for the monthsBack calendar months before now,
// most recent month first, items in configured order.
func Plan(now time.Time, monthsBack int, items []config.LineItem) []Expense {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	var plan []Expense
	for offset := 1; offset <= monthsBack; offset++ {
		month := first.AddDate(0, -offset, 0)
		for _, item := range items {
			plan = append(plan, Expense{
				Date:        month.AddDate(0, 0, ExpenseDay(item.Description)-1),
				Description: item.Description,
				Amount:      item.Amount,
			})
		}
	}
	return plan
}

// ReportName names a report covering the monthsBack months before now.
func ReportName(now time.Time, monthsBack int) string {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -monthsBack, 0)
	return fmt.Sprintf("Expenses - %s - %s", start.Format(DateFormat), now.Format(DateFormat))
}

// NewBudget bounds category by limit per month.
func NewBudget(category string, limit decimal.Decimal) *ledger.Budget {
	return ledger.NewBudget().SetCeiling(category, limit)
}

func oneLine(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
