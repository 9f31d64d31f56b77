// Package table sorts and paginates an expense collection for display.
package table

import (
	"cmp"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"expensedash/internal/core"
)

// DefaultPageSize is the number of rows per page when none is configured.
const DefaultPageSize = 5

type SortKey string

const (
	SortNone   SortKey = ""
	SortAmount SortKey = "amount"
	SortDate   SortKey = "date"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// State is the UI state of a table.
type State struct {
	SortKey   SortKey
	Direction Direction
	Page      int
	PageSize  int
}

// NewState returns page 1, unsorted, with the given page size.
func NewState(pageSize int) State {
	return State{Direction: Asc, Page: 1, PageSize: pageSize}.normalize()
}

func (s State) normalize() State {
	if s.PageSize <= 0 {
		s.PageSize = DefaultPageSize
	}
	if s.Page < 1 {
		s.Page = 1
	}
	if s.Direction != Desc {
		s.Direction = Asc
	}
	switch s.SortKey {
	case SortAmount, SortDate:
	default:
		s.SortKey = SortNone
	}
	return s
}

// Toggle selects key. Selecting the current key flips the direction, a new
// key starts ascending. Either way the page goes back to 1.
func (s State) Toggle(key SortKey) State {
	s = s.normalize()
	if key == s.SortKey {
		if s.Direction == Asc {
			s.Direction = Desc
		} else {
			s.Direction = Asc
		}
	} else {
		s.SortKey = key
		s.Direction = Asc
	}
	s.Page = 1
	return s.normalize()
}

// Next moves one page forward. Render clamps pages past the end.
func (s State) Next() State {
	s = s.normalize()
	s.Page++
	return s
}

// Prev moves one page back, stopping at 1.
func (s State) Prev() State {
	s = s.normalize()
	if s.Page > 1 {
		s.Page--
	}
	return s
}

// Goto jumps to page n.
func (s State) Goto(n int) State {
	s.Page = n
	return s.normalize()
}

// Query encodes the state as URL parameters.
func (s State) Query() url.Values {
	s = s.normalize()
	v := url.Values{}
	if s.SortKey != SortNone {
		v.Set("sort", string(s.SortKey))
		v.Set("dir", string(s.Direction))
	}
	if s.Page > 1 {
		v.Set("page", strconv.Itoa(s.Page))
	}
	return v
}

// StateFromQuery is the inverse of Query. Unknown values fall back to the
// defaults.
func StateFromQuery(v url.Values, pageSize int) State {
	s := State{
		SortKey:   SortKey(v.Get("sort")),
		Direction: Direction(v.Get("dir")),
		PageSize:  pageSize,
	}
	s.Page, _ = strconv.Atoi(v.Get("page"))
	return s.normalize()
}

// Result is one rendered page.
type Result struct {
	Rows     []core.Expense
	Page     int
	Pages    int
	PageSize int
	Total    int
	// From and To are the 1-based positions of the first and last row.
	From    int
	To      int
	Empty   bool
	HasPrev bool
	HasNext bool
	State   State
}

// Summary renders the "Showing X to Y of Z" caption.
func (r Result) Summary() string {
	if r.Empty {
		return "No expenses found"
	}
	return fmt.Sprintf("Showing %d to %d of %d", r.From, r.To, r.Total)
}

// Render sorts a copy of records by the state's key and returns the
// requested page, clamped into range. It never modifies records.
func Render(records []core.Expense, state State) Result {
	state = state.normalize()
	count := len(records)
	if count == 0 {
		state.Page = 1
		return Result{Empty: true, Page: 1, PageSize: state.PageSize, State: state}
	}

	sorted := Sort(records, state.SortKey, state.Direction)

	pages := (count + state.PageSize - 1) / state.PageSize
	state.Page = min(max(state.Page, 1), pages)

	start := (state.Page - 1) * state.PageSize
	end := min(start+state.PageSize, count)

	return Result{
		Rows:     sorted[start:end],
		Page:     state.Page,
		Pages:    pages,
		PageSize: state.PageSize,
		Total:    count,
		From:     start + 1,
		To:       end,
		HasPrev:  state.Page > 1,
		HasNext:  state.Page < pages,
		State:    state,
	}
}

// Sort returns a stably sorted copy of records. Equal keys keep their input
// order in both directions.
func Sort(records []core.Expense, key SortKey, dir Direction) []core.Expense {
	out := slices.Clone(records)
	var compare func(a, b core.Expense) int
	switch key {
	case SortAmount:
		compare = func(a, b core.Expense) int { return cmp.Compare(a.Amount.Cents, b.Amount.Cents) }
	case SortDate:
		compare = func(a, b core.Expense) int { return a.Date.Compare(b.Date.Time) }
	default:
		return out
	}
	if dir == Desc {
		asc := compare
		compare = func(a, b core.Expense) int { return asc(b, a) }
	}
	slices.SortStableFunc(out, compare)
	return out
}

// View couples a collection with its table state. It is not safe for
// concurrent use.
type View struct {
	records []core.Expense
	state   State
}

func NewView(pageSize int) *View {
	return &View{state: NewState(pageSize)}
}

// SetRecords replaces the collection and returns to page 1.
func (v *View) SetRecords(records []core.Expense) {
	v.records = records
	v.state.Page = 1
}

func (v *View) Toggle(key SortKey) { v.state = v.state.Toggle(key) }

func (v *View) Next() {
	if r := v.Render(); r.HasNext {
		v.state = v.state.Goto(r.Page + 1)
	}
}

func (v *View) Prev() { v.state = v.state.Prev() }

func (v *View) Goto(n int) { v.state = Render(v.records, v.state.Goto(n)).State }

func (v *View) State() State { return v.state }

func (v *View) Render() Result { return Render(v.records, v.state) }
