package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

const (
	// SectionIDExpenses is the identifier for the expense report section
	SectionIDExpenses = "expenses"
)

// Default expense values.
const (
	DefaultCategory   = "Cellphone & Internet"
	DefaultMonthsBack = 2
)

// LineItem is one expense entered every month.
type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// DefaultLineItems returns the monthly phone and internet items.
func DefaultLineItems() []LineItem {
	return []LineItem{
		{Description: "Cellphone", Amount: decimal.RequireFromString("100.00")},
		{Description: "Internet", Amount: decimal.RequireFromString("20.00")},
	}
}

// ExpensesSection manages expense report creation.
type ExpensesSection struct {
	// MonthlyLimit is the ceiling for Category per calendar month
	MonthlyLimit decimal.Decimal
	LineItems    []LineItem
	MonthsBack   int

	Category     string
	Vendor       string
	Location     string
	Reimbursable bool

	mu sync.RWMutex
}

// NewExpensesSection creates an expenses section with default settings.
func NewExpensesSection() *ExpensesSection {
	s := &ExpensesSection{}
	s.reset()
	return s
}

// ID returns the section identifier.
func (s *ExpensesSection) ID() string {
	return SectionIDExpenses
}

// Title returns the section title.
func (s *ExpensesSection) Title() string {
	return "Expense Settings"
}

// Description returns the section description.
func (s *ExpensesSection) Description() string {
	return "Recurring line items, the category they are filed under and its monthly ceiling."
}

// Data returns the current configuration data.
func (s *ExpensesSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]any, 0, len(s.LineItems))
	for _, item := range s.LineItems {
		items = append(items, map[string]any{
			"description": item.Description,
			"amount":      item.Amount.StringFixed(2),
		})
	}
	return map[string]any{
		"monthly_limit": s.MonthlyLimit.StringFixed(2),
		"line_items":    items,
		"months_back":   s.MonthsBack,
		"category":      s.Category,
		"vendor":        s.Vendor,
		"location":      s.Location,
		"reimbursable":  s.Reimbursable,
	}
}

// SetData updates the configuration from the provided data.
func (s *ExpensesSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "monthly_limit":
			s.MonthlyLimit, err = toDecimal(value)
		case "line_items":
			s.LineItems, err = toLineItems(value)
		case "months_back":
			s.MonthsBack, err = cast.ToIntE(value)
		case "category":
			s.Category, err = cast.ToStringE(value)
		case "vendor":
			s.Vendor, err = cast.ToStringE(value)
		case "location":
			s.Location, err = cast.ToStringE(value)
		case "reimbursable":
			s.Reimbursable, err = cast.ToBoolE(value)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *ExpensesSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.MonthlyLimit.IsNegative() {
		return fmt.Errorf("monthly_limit must not be negative")
	}
	if s.MonthsBack < 1 || s.MonthsBack > 12 {
		return fmt.Errorf("months_back must be between 1 and 12, got %d", s.MonthsBack)
	}
	if strings.TrimSpace(s.Category) == "" {
		return fmt.Errorf("category must not be empty")
	}
	seen := make(map[string]bool)
	for i, item := range s.LineItems {
		if strings.TrimSpace(item.Description) == "" {
			return fmt.Errorf("line item %d has no description", i+1)
		}
		if !item.Amount.IsPositive() {
			return fmt.Errorf("line item %q must have a positive amount", item.Description)
		}
		if seen[item.Description] {
			return fmt.Errorf("line item %q is listed twice", item.Description)
		}
		seen[item.Description] = true
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *ExpensesSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *ExpensesSection) reset() {
	s.MonthlyLimit = decimal.RequireFromString("120.00")
	s.LineItems = DefaultLineItems()
	s.MonthsBack = DefaultMonthsBack
	s.Category = DefaultCategory
	s.Vendor = ""
	s.Location = ""
	s.Reimbursable = true
}

func toDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	}
	str, err := cast.ToStringE(value)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(str), "$"))
}

// toLineItems accepts a decoded JSON list, a JSON string, or the flag form
// "Cellphone:100.00,Internet:20.00".
func toLineItems(value any) ([]LineItem, error) {
	switch v := value.(type) {
	case []LineItem:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "[") {
			var items []LineItem
			if err := json.Unmarshal([]byte(v), &items); err != nil {
				return nil, err
			}
			return items, nil
		}
		return parseItemList(strings.Split(v, ","))
	case []string:
		return parseItemList(v)
	}

	list, err := cast.ToSliceE(value)
	if err != nil {
		return nil, err
	}
	items := make([]LineItem, 0, len(list))
	for _, raw := range list {
		m, err := cast.ToStringMapE(raw)
		if err != nil {
			return nil, fmt.Errorf("line item: %w", err)
		}
		amount, err := toDecimal(m["amount"])
		if err != nil {
			return nil, fmt.Errorf("line item amount: %w", err)
		}
		items = append(items, LineItem{Description: cast.ToString(m["description"]), Amount: amount})
	}
	return items, nil
}

func parseItemList(parts []string) ([]LineItem, error) {
	var items []LineItem
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		desc, amt, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("line item %q is not description:amount", part)
		}
		amount, err := toDecimal(amt)
		if err != nil {
			return nil, fmt.Errorf("line item %q: %w", part, err)
		}
		items = append(items, LineItem{Description: strings.TrimSpace(desc), Amount: amount})
	}
	return items, nil
}
