package http

import (
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"expensedash/internal/core"
	"expensedash/internal/guard"
	"expensedash/internal/table"
)

var templateFuncs = template.FuncMap{
	"money":   formatRupees,
	"date":    formatDate,
	"percent": func(p float64) string { return fmt.Sprintf("%.1f%%", p) },
	"editURL": editURL,
	"deleteURL": func(id core.ID) string {
		return "/dashboard/expenses/" + url.PathEscape(id.String()) + "/delete"
	},
	"backURL": func(ret string) string {
		if ret == "" {
			return guard.HomePath
		}
		return guard.HomePath + "?" + ret
	},
	"dict": dict,
}

// dict builds a map from alternating keys and values so templates can pass
// several arguments to a nested template.
func dict(kv ...any) (map[string]any, error) {
	if len(kv)%2 != 0 {
		return nil, errors.New("dict: odd number of arguments")
	}
	m := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict: key %v is not a string", kv[i])
		}
		m[k] = kv[i+1]
	}
	return m, nil
}

// formatRupees renders an amount the way the dashboard shows it, e.g.
// "₹1250.50".
func formatRupees(m core.Money) string {
	if m.Cents < 0 {
		return "-₹" + core.Money{Cents: -m.Cents}.String()
	}
	return "₹" + m.String()
}

// formatDate renders dates as DD/MM/YYYY.
func formatDate(d core.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.Format("02/01/2006")
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// expenseForm holds the raw form values so a rejected submission can be
// shown again as typed.
type expenseForm struct {
	Amount      string
	Category    string
	Description string
	Date        string
}

func formFromValues(v url.Values) expenseForm {
	return expenseForm{
		Amount:      sanitizeInput(v.Get("amount")),
		Category:    sanitizeInput(v.Get("category")),
		Description: sanitizeInput(v.Get("description")),
		Date:        sanitizeInput(v.Get("date")),
	}
}

func formFromExpense(e core.Expense) expenseForm {
	return expenseForm{
		Amount:      e.Amount.String(),
		Category:    e.Category,
		Description: e.Description,
		Date:        e.Date.String(),
	}
}

// Draft parses the form into a validated draft. Failures are
// ValidationErrors.
func (f expenseForm) Draft() (core.Draft, error) {
	return core.ParseDraft(f.Amount, f.Category, f.Description, f.Date)
}

// dashboardURL links to the dashboard with the given table state and an
// optional notice.
func dashboardURL(state table.State, notice string) string {
	q := state.Query()
	if notice != "" {
		q.Set("notice", notice)
	}
	if len(q) == 0 {
		return guard.HomePath
	}
	return guard.HomePath + "?" + q.Encode()
}

// returnState reads the table state a form was submitted from.
func returnState(v url.Values, pageSize int) table.State {
	q, err := url.ParseQuery(v.Get("return"))
	if err != nil {
		return table.NewState(pageSize)
	}
	return table.StateFromQuery(q, pageSize)
}

var notices = map[string]string{
	"created": "Expense added.",
	"updated": "Expense updated.",
	"deleted": "Expense deleted.",
}
