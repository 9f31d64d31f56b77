package core

import "time"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// SummaryView is the dashboard digest of a record collection. It is derived
// on every change and never edited on its own.
type SummaryView struct {
	Total      Money
	WeekTotal  Money
	MonthTotal Money
	// ByCategory keeps the order in which categories first appear.
	ByCategory []CategoryAmount
}

// CategoryShare is a category amount with its percentage of the total.
type CategoryShare struct {
	CategoryAmount
	Percent float64
}

// WeekStart returns the Sunday on or before now, as a calendar date in
// now's location.
func WeekStart(now time.Time) Date {
	y, m, d := now.Date()
	return NewDate(y, int(m), d-int(now.Weekday()))
}

// Summarize derives the SummaryView of records as seen at now.
//
// The week window starts on the most recent Sunday and has no upper bound,
// so future dated records are counted. The month window matches the month
// number only and ignores the year. Both policies reproduce the dashboard
// figures users already rely on.
func Summarize(records []Expense, now time.Time) SummaryView {
	var (
		view       SummaryView
		weekStart  = WeekStart(now)
		month      = now.Month()
		categories = map[string]int{}
	)
	for _, r := range records {
		view.Total = view.Total.Add(r.Amount)
		if !r.Date.IsZero() && !r.Date.Time.Before(weekStart.Time) {
			view.WeekTotal = view.WeekTotal.Add(r.Amount)
		}
		if !r.Date.IsZero() && r.Date.Month() == month {
			view.MonthTotal = view.MonthTotal.Add(r.Amount)
		}

		label := r.CategoryLabel()
		idx, ok := categories[label]
		if !ok {
			idx = len(view.ByCategory)
			categories[label] = idx
			view.ByCategory = append(view.ByCategory, CategoryAmount{Name: label})
		}
		view.ByCategory[idx].Amount = view.ByCategory[idx].Amount.Add(r.Amount)
	}
	return view
}

// CategoryTotal returns the amount recorded for a category label.
func (v SummaryView) CategoryTotal(name string) (Money, bool) {
	for _, c := range v.ByCategory {
		if c.Name == name {
			return c.Amount, true
		}
	}
	return Money{}, false
}

// Empty reports whether the view was derived from no records.
func (v SummaryView) Empty() bool {
	return len(v.ByCategory) == 0
}

// Shares returns every category with its percentage of the total, in the
// same order as ByCategory.
func (v SummaryView) Shares() []CategoryShare {
	out := make([]CategoryShare, 0, len(v.ByCategory))
	for _, c := range v.ByCategory {
		share := CategoryShare{CategoryAmount: c}
		if v.Total.Cents > 0 {
			share.Percent = float64(c.Amount.Cents) / float64(v.Total.Cents) * 100
		}
		out = append(out, share)
	}
	return out
}
