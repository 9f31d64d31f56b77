package records

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensedash/internal/api"
	"expensedash/internal/core"
)

// fakeBackend mimics the expense service closely enough for the repository:
// ids are numbers, amounts come back as strings and dates as timestamps.
type fakeBackend struct {
	mu       sync.Mutex
	nextID   int
	expenses map[int]map[string]any
	lists    atomic.Int32
	writes   atomic.Int32
	failWith atomic.Int32
	// beforeListReply runs after the list snapshot is taken and before it
	// is written back.
	beforeListReply func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{nextID: 1, expenses: map[int]map[string]any{}}
}

func (f *fakeBackend) seed(owner int, amount, category, desc, date string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.expenses[id] = map[string]any{
		"id": id, "amount": amount, "category": category, "description": desc,
		"expense_date": date + "T00:00:00.000Z", "user_id": owner,
	}
	return id
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if code := f.failWith.Load(); code != 0 {
		w.WriteHeader(int(code))
		w.Write([]byte(`{"error":"backend unavailable"}`))
		return
	}
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, pathList):
		f.lists.Add(1)
		owner, _ := strconv.Atoi(strings.TrimPrefix(path, pathList))
		f.mu.Lock()
		out := []map[string]any{}
		for id := 1; id < f.nextID; id++ {
			if e, ok := f.expenses[id]; ok && e["user_id"] == owner {
				out = append(out, e)
			}
		}
		hook := f.beforeListReply
		f.beforeListReply = nil
		f.mu.Unlock()
		if hook != nil {
			hook()
		}
		json.NewEncoder(w).Encode(map[string]any{"expenses": out})

	case r.Method == http.MethodPost && path == pathCreate:
		f.writes.Add(1)
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		owner, _ := body["user_id"].(float64)
		amount := strconv.FormatFloat(body["amount"].(float64), 'f', 2, 64)
		id := f.seed(int(owner), amount, body["category"].(string), body["description"].(string), body["date"].(string))
		f.mu.Lock()
		rec := f.expenses[id]
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"message": "Expense added", "expense": rec})

	case r.Method == http.MethodPut && strings.HasPrefix(path, pathUpdate):
		f.writes.Add(1)
		id, _ := strconv.Atoi(strings.TrimPrefix(path, pathUpdate))
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		e, ok := f.expenses[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Expense not found"}`))
			return
		}
		e["amount"] = strconv.FormatFloat(body["amount"].(float64), 'f', 2, 64)
		e["category"] = body["category"]
		e["description"] = body["description"]
		e["expense_date"] = body["date"]
		w.Write([]byte(`{"message":"Expense updated"}`))

	case r.Method == http.MethodDelete && strings.HasPrefix(path, pathRemove):
		f.writes.Add(1)
		id, _ := strconv.Atoi(strings.TrimPrefix(path, pathRemove))
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.expenses[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Expense not found"}`))
			return
		}
		delete(f.expenses, id)
		w.Write([]byte(`{"message":"Expense deleted"}`))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []core.Change
	err     error
}

func (n *recordingNotifier) Notify(ctx context.Context, c core.Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return n.err
}

func setup(t *testing.T, opts Options) (*Repository, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	gw := api.New(api.Options{BaseURL: srv.URL})
	if opts.CacheTTL == 0 {
		opts.CacheTTL = time.Minute
	}
	return New(gw, opts), backend
}

func draft(amount int64, category, desc, date string) core.Draft {
	d, _ := core.ParseDate(date)
	return core.Draft{Amount: core.Money{Cents: amount}, Category: category, Description: desc, Date: d}
}

func TestList_EmptyOwner(t *testing.T) {
	repo, backend := setup(t, Options{})

	got, err := repo.List(context.Background(), "7")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.EqualValues(t, 1, backend.lists.Load())
}

func TestList_DecodesServerShapes(t *testing.T) {
	repo, backend := setup(t, Options{})
	backend.seed(1, "12.50", "Food", "Lunch", "2025-06-16")
	backend.seed(2, "99.00", "Travel", "Not mine", "2025-06-16")

	got, err := repo.List(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.ID("1"), got[0].ID)
	assert.Equal(t, int64(1250), got[0].Amount.Cents)
	assert.Equal(t, "2025-06-16", got[0].Date.String())
	assert.Equal(t, core.ID("1"), got[0].OwnerID)
}

func TestList_MixedServerFormats(t *testing.T) {
	repo, backend := setup(t, Options{})
	backend.seed(1, "12.50", "Food", "Lunch", "2025-06-16")
	backend.mu.Lock()
	backend.expenses[backend.nextID] = map[string]any{
		"id": backend.nextID, "amount": json.Number("1e2"), "category": "Rent",
		"description": "Deposit", "expense_date": "2024-03-02 10:00:00", "user_id": 1,
	}
	backend.nextID++
	backend.mu.Unlock()

	got, err := repo.List(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1250), got[0].Amount.Cents)
	assert.Equal(t, int64(10000), got[1].Amount.Cents)
	assert.Equal(t, "2024-03-02", got[1].Date.String())
}

func TestList_UsesCacheUntilInvalidated(t *testing.T) {
	repo, backend := setup(t, Options{})
	backend.seed(1, "5.00", "Food", "Tea", "2025-06-16")
	ctx := context.Background()

	_, err := repo.List(ctx, "1")
	require.NoError(t, err)
	first, err := repo.List(ctx, "1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, backend.lists.Load())

	first[0].Description = "mutated by caller"
	again, err := repo.List(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Tea", again[0].Description)

	repo.Invalidate("1")
	_, err = repo.List(ctx, "1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, backend.lists.Load())
}

func TestCreate_NextListIncludesRecord(t *testing.T) {
	notifier := &recordingNotifier{}
	repo, _ := setup(t, Options{Notifier: notifier})
	ctx := context.Background()

	before, err := repo.List(ctx, "1")
	require.NoError(t, err)
	require.Empty(t, before)

	rec, err := repo.Create(ctx, "1", draft(4200, "Transport", "Taxi", "2025-06-17"))
	require.NoError(t, err)
	assert.False(t, rec.ID.IsZero())
	assert.Equal(t, int64(4200), rec.Amount.Cents)
	assert.Equal(t, core.ID("1"), rec.OwnerID)

	after, err := repo.List(ctx, "1")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, rec.ID, after[0].ID)

	require.Len(t, notifier.changes, 1)
	assert.Equal(t, core.OpCreated, notifier.changes[0].Op)
	assert.Equal(t, core.ID("1"), notifier.changes[0].OwnerID)
	assert.Equal(t, rec.ID, notifier.changes[0].ExpenseID)
}

func TestUpdate_NextListHasNewValues(t *testing.T) {
	repo, backend := setup(t, Options{})
	id := backend.seed(1, "10.00", "Food", "Lunch", "2025-06-16")
	ctx := context.Background()

	_, err := repo.List(ctx, "1")
	require.NoError(t, err)

	rec, err := repo.Update(ctx, core.ID(strconv.Itoa(id)), draft(1500, "Food", "Dinner", "2025-06-16"))
	require.NoError(t, err)
	assert.Equal(t, "Dinner", rec.Description)
	assert.Equal(t, core.ID("1"), rec.OwnerID)

	after, err := repo.List(ctx, "1")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "Dinner", after[0].Description)
	assert.Equal(t, int64(1500), after[0].Amount.Cents)
}

func TestUpdate_UnknownOwnerInvalidatesEverything(t *testing.T) {
	repo, backend := setup(t, Options{})
	id := backend.seed(1, "10.00", "Food", "Lunch", "2025-06-16")
	ctx := context.Background()

	_, err := repo.List(ctx, "2")
	require.NoError(t, err)

	// The id was never listed, so the owner is unknown.
	_, err = repo.Update(ctx, core.ID(strconv.Itoa(id)), draft(1500, "Food", "Dinner", "2025-06-16"))
	require.NoError(t, err)

	_, err = repo.List(ctx, "2")
	require.NoError(t, err)
	assert.EqualValues(t, 2, backend.lists.Load())
}

func TestUpdate_NotFound(t *testing.T) {
	repo, _ := setup(t, Options{})

	_, err := repo.Update(context.Background(), "999", draft(100, "Food", "x", "2025-06-16"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, "Expense not found", core.UserMessage(err))
}

func TestRemove_NextListExcludesRecord(t *testing.T) {
	repo, backend := setup(t, Options{})
	id := backend.seed(1, "10.00", "Food", "Lunch", "2025-06-16")
	backend.seed(1, "3.00", "Food", "Snack", "2025-06-16")
	ctx := context.Background()

	before, err := repo.List(ctx, "1")
	require.NoError(t, err)
	require.Len(t, before, 2)

	require.NoError(t, repo.Remove(ctx, core.ID(strconv.Itoa(id))))

	after, err := repo.List(ctx, "1")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "Snack", after[0].Description)

	err = repo.Remove(ctx, core.ID(strconv.Itoa(id)))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestValidationNeverReachesNetwork(t *testing.T) {
	repo, backend := setup(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name  string
		call  func() error
		cause error
	}{
		{"zero amount", func() error {
			_, err := repo.Create(ctx, "1", draft(0, "Food", "x", "2025-06-16"))
			return err
		}, core.ErrInvalidAmount},
		{"empty description", func() error {
			_, err := repo.Create(ctx, "1", draft(100, "Food", "  ", "2025-06-16"))
			return err
		}, core.ErrEmptyDescription},
		{"empty category", func() error {
			_, err := repo.Update(ctx, "3", draft(100, "", "x", "2025-06-16"))
			return err
		}, core.ErrEmptyCategory},
		{"missing date", func() error {
			_, err := repo.Create(ctx, "1", core.Draft{Amount: core.Money{Cents: 1}, Category: "Food", Description: "x"})
			return err
		}, core.ErrMissingDate},
		{"missing owner", func() error {
			_, err := repo.Create(ctx, "", draft(100, "Food", "x", "2025-06-16"))
			return err
		}, ErrMissingOwner},
		{"missing id", func() error { return repo.Remove(ctx, "") }, ErrMissingID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrValidation)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
	assert.EqualValues(t, 0, backend.writes.Load())
}

func TestFailedMutationKeepsCache(t *testing.T) {
	notifier := &recordingNotifier{}
	repo, backend := setup(t, Options{Notifier: notifier})
	backend.seed(1, "10.00", "Food", "Lunch", "2025-06-16")
	ctx := context.Background()

	_, err := repo.List(ctx, "1")
	require.NoError(t, err)

	backend.failWith.Store(http.StatusInternalServerError)
	_, err = repo.Create(ctx, "1", draft(100, "Food", "x", "2025-06-16"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrWrite)
	assert.Equal(t, "backend unavailable", core.UserMessage(err))

	got, err := repo.List(ctx, "1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.EqualValues(t, 1, backend.lists.Load())
	assert.Empty(t, notifier.changes)
}

func TestList_FetchFailure(t *testing.T) {
	repo, backend := setup(t, Options{})
	backend.failWith.Store(http.StatusBadGateway)

	_, err := repo.List(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFetch)
}

func TestList_DiscardsFetchOvertakenByMutation(t *testing.T) {
	repo, backend := setup(t, Options{})
	backend.seed(1, "10.00", "Food", "Lunch", "2025-06-16")

	// While the first list request is in flight, another client adds a
	// record and this device learns about it.
	backend.beforeListReply = func() {
		backend.seed(1, "2.00", "Food", "Coffee", "2025-06-16")
		repo.Invalidate("1")
	}

	got, err := repo.List(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.EqualValues(t, 2, backend.lists.Load())

	cached, err := repo.List(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, cached, 2)
	assert.EqualValues(t, 2, backend.lists.Load())
}

func TestNotifierFailureDoesNotFailMutation(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("broker down")}
	repo, _ := setup(t, Options{Notifier: notifier})

	_, err := repo.Create(context.Background(), "1", draft(100, "Food", "x", "2025-06-16"))
	require.NoError(t, err)
	assert.Len(t, notifier.changes, 1)
}

func TestList_CancelledContext(t *testing.T) {
	repo, _ := setup(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.List(ctx, "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
