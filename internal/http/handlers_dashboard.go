package http

import (
	"context"
	"net/http"
	"net/url"

	"expensedash/internal/core"
	applog "expensedash/internal/log"
	"expensedash/internal/table"
)

type sortLink struct {
	URL    string
	Active bool
	Desc   bool
}

type dashboardPage struct {
	User       core.User
	Summary    core.SummaryView
	Shares     []core.CategoryShare
	Table      table.Result
	SortAmount sortLink
	SortDate   sortLink
	PrevURL    string
	NextURL    string
	// Return is the current table query, posted back by the forms.
	Return     string
	Categories []string
	Form       expenseForm
	Error      string
	Notice     string
}

// handleDashboard shows the summary and the current table page. A failed
// fetch renders the page with the error instead of the table.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	state := table.StateFromQuery(r.URL.Query(), s.pageSize)
	page, err := s.dashboard(r.Context(), state)
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	page.Notice = notices[r.URL.Query().Get("notice")]
	page.Form = expenseForm{Date: core.DateOf(s.now()).String()}
	s.render(w, r, status, "dashboard.html", page)
}

// dashboard loads the user's records and derives the page. On error the
// returned page carries the message and no rows.
func (s *Server) dashboard(ctx context.Context, state table.State) (dashboardPage, error) {
	user, _ := s.sessions.User()
	page := dashboardPage{
		User:       user,
		Categories: core.Categories,
	}

	records, err := s.records.List(ctx, user.ID)
	if err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "Failed to load expenses",
			applog.FieldOperation, applog.OpList,
			applog.FieldOwnerID, user.ID.String(),
			applog.FieldError, err)
		page.Error = core.UserMessage(err)
		records = nil
	}

	page.Summary = core.Summarize(records, s.now())
	page.Shares = page.Summary.Shares()
	page.Table = table.Render(records, state)

	current := page.Table.State
	page.Return = current.Query().Encode()
	page.SortAmount = s.sortLink(current, table.SortAmount)
	page.SortDate = s.sortLink(current, table.SortDate)
	if page.Table.HasPrev {
		page.PrevURL = dashboardURL(current.Prev(), "")
	}
	if page.Table.HasNext {
		page.NextURL = dashboardURL(current.Next(), "")
	}
	return page, err
}

func (s *Server) sortLink(state table.State, key table.SortKey) sortLink {
	return sortLink{
		URL:    dashboardURL(state.Toggle(key), ""),
		Active: state.SortKey == key,
		Desc:   state.SortKey == key && state.Direction == table.Desc,
	}
}

// renderDashboardError shows the dashboard again after a rejected form,
// keeping what the user typed.
func (s *Server) renderDashboardError(w http.ResponseWriter, r *http.Request, form expenseForm, formErr error) {
	state := returnState(r.PostForm, s.pageSize)
	page, _ := s.dashboard(r.Context(), state)
	page.Form = form
	page.Error = core.UserMessage(formErr)
	s.render(w, r, statusFor(formErr), "dashboard.html", page)
}

func editURL(id core.ID, ret string) string {
	u := "/dashboard/expenses/" + url.PathEscape(id.String()) + "/edit"
	if ret != "" {
		u += "?" + url.Values{"return": {ret}}.Encode()
	}
	return u
}
