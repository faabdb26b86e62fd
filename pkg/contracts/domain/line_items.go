package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrUnknownField is returned when a line item names a field outside the catalog.
var ErrUnknownField = errors.New("unknown line item field")

// LineItems holds the amounts of one month keyed by canonical field.
// Absent fields are zero.
type LineItems map[Field]decimal.Decimal

// Set stores an amount under a catalog field.
func (li LineItems) Set(f Field, amount decimal.Decimal) error {
	if !f.IsKnown() {
		return fmt.Errorf("%w: %q", ErrUnknownField, f)
	}
	li[f] = amount
	return nil
}

// Get returns the amount for f, zero when absent.
func (li LineItems) Get(f Field) decimal.Decimal {
	if v, ok := li[f]; ok {
		return v
	}
	return decimal.Zero
}

// HasNonZero reports whether at least one amount is non-zero.
func (li LineItems) HasNonZero() bool {
	for _, v := range li {
		if !v.IsZero() {
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (li LineItems) Clone() LineItems {
	out := make(LineItems, len(li))
	for k, v := range li {
		out[k] = v
	}
	return out
}

// Equal compares amounts field by field, treating absent as zero.
func (li LineItems) Equal(other LineItems) bool {
	for k, v := range li {
		if !v.Equal(other.Get(k)) {
			return false
		}
	}
	for k, v := range other {
		if !v.Equal(li.Get(k)) {
			return false
		}
	}
	return true
}

// SortedFields returns the fields present, in catalog order.
func (li LineItems) SortedFields() []Field {
	fields := make([]Field, 0, len(li))
	for f := range li {
		fields = append(fields, f)
	}
	sort.SliceStable(fields, func(i, j int) bool { return fieldOrder[fields[i]] < fieldOrder[fields[j]] })
	return fields
}

// Totals derives the statement totals from the line items.
func (li LineItems) Totals() Totals {
	sums := make(map[FieldGroup]decimal.Decimal, 5)
	for f, v := range li {
		g := f.Group()
		sums[g] = sums[g].Add(v)
	}

	t := Totals{
		TotalIncome:   sums[GroupIncome],
		TotalCOGS:     sums[GroupCOGS],
		TotalExpenses: sums[GroupExpense],
	}
	t.GrossProfit = t.TotalIncome.Sub(t.TotalCOGS)
	t.NetOrdinaryIncome = t.GrossProfit.Sub(t.TotalExpenses)
	t.NetIncome = t.NetOrdinaryIncome.Add(sums[GroupOtherIncome]).Sub(sums[GroupOtherExpense])
	return t
}

// MarshalJSON writes non-zero amounts only.
func (li LineItems) MarshalJSON() ([]byte, error) {
	out := make(map[string]decimal.Decimal, len(li))
	for k, v := range li {
		if v.IsZero() {
			continue
		}
		out[string(k)] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON rejects fields outside the catalog.
func (li *LineItems) UnmarshalJSON(data []byte) error {
	var raw map[string]decimal.Decimal
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	items := make(LineItems, len(raw))
	for k, v := range raw {
		if err := items.Set(Field(k), v); err != nil {
			return err
		}
	}
	*li = items
	return nil
}

// Totals are the derived statement lines stored alongside every record and snapshot.
type Totals struct {
	TotalIncome       decimal.Decimal `json:"total_income" db:"total_income"`
	TotalCOGS         decimal.Decimal `json:"total_cogs" db:"total_cogs"`
	GrossProfit       decimal.Decimal `json:"gross_profit" db:"gross_profit"`
	TotalExpenses     decimal.Decimal `json:"total_expenses" db:"total_expenses"`
	NetOrdinaryIncome decimal.Decimal `json:"net_ordinary_income" db:"net_ordinary_income"`
	NetIncome         decimal.Decimal `json:"net_income" db:"net_income"`
}
