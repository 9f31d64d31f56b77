package http

import (
	"errors"
	"net/http"

	"expensedash/internal/core"
	applog "expensedash/internal/log"
)

var errExpenseNotFound = core.NewError(core.KindNotFound, "expense not found", nil)

type editPage struct {
	ID         core.ID
	Form       expenseForm
	Categories []string
	Return     string
	Error      string
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	form := formFromValues(r.PostForm)
	draft, err := form.Draft()
	if err != nil {
		s.renderDashboardError(w, r, form, err)
		return
	}

	user, _ := s.sessions.User()
	if _, err := s.records.Create(ctx, user.ID, draft); err != nil {
		s.renderDashboardError(w, r, form, err)
		return
	}

	applog.FromContext(ctx).InfoContext(ctx, "Expense created from dashboard",
		applog.NewFields().
			WithOperation(applog.OpCreate).
			WithExpense("", user.ID.String(), draft.Amount.Cents, draft.Category).
			ToSlice()...)
	http.Redirect(w, r, dashboardURL(returnState(r.PostForm, s.pageSize), "created"), http.StatusSeeOther)
}

// handleEditPage shows the edit form filled with the record's current
// values, looked up in the user's cached list.
func (s *Server) handleEditPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := core.ID(r.PathValue("id"))
	user, _ := s.sessions.User()

	records, err := s.records.List(ctx, user.ID)
	if err != nil {
		http.Error(w, core.UserMessage(err), statusFor(err))
		return
	}
	for _, e := range records {
		if e.ID == id {
			s.render(w, r, http.StatusOK, "edit.html", editPage{
				ID:         id,
				Form:       formFromExpense(e),
				Categories: core.Categories,
				Return:     r.URL.Query().Get("return"),
			})
			return
		}
	}
	http.Error(w, core.UserMessage(errExpenseNotFound), http.StatusNotFound)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	id := core.ID(r.PathValue("id"))
	form := formFromValues(r.PostForm)
	page := editPage{
		ID:         id,
		Form:       form,
		Categories: core.Categories,
		Return:     r.PostForm.Get("return"),
	}

	draft, err := form.Draft()
	if err == nil {
		_, err = s.records.Update(ctx, id, draft)
	}
	if err != nil {
		page.Error = core.UserMessage(err)
		s.render(w, r, statusFor(err), "edit.html", page)
		return
	}
	http.Redirect(w, r, dashboardURL(returnState(r.PostForm, s.pageSize), "updated"), http.StatusSeeOther)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	id := core.ID(r.PathValue("id"))
	if err := s.records.Remove(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			err = errExpenseNotFound
		}
		s.renderDashboardError(w, r, expenseForm{Date: core.DateOf(s.now()).String()}, err)
		return
	}
	http.Redirect(w, r, dashboardURL(returnState(r.PostForm, s.pageSize), "deleted"), http.StatusSeeOther)
}
