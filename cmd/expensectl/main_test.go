package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensedash/internal/cli"
	"expensedash/internal/config"
	"expensedash/internal/core"
	applog "expensedash/internal/log"
)

var testNow = time.Date(2024, time.March, 14, 12, 0, 0, 0, time.UTC)

// fakeService is a small stand-in for the expense service: one account,
// numeric ids, amounts echoed back as strings.
type fakeService struct {
	mu       sync.Mutex
	next     int
	expenses map[string]map[string]any
}

func newFakeService() *httptest.Server {
	f := &fakeService{expenses: map[string]map[string]any{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"message":"User registered successfully"}`))
	})
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret1" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Invalid credentials"}`))
			return
		}
		w.Write([]byte(`{"user":{"id":7,"name":"alice"},"token":"tok-7"}`))
	})
	mux.HandleFunc("GET /expense/get-expenses/{owner}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		out := []map[string]any{}
		for i := 1; i <= f.next; i++ {
			if e, ok := f.expenses[strconv.Itoa(i)]; ok {
				out = append(out, e)
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"expenses": out})
	})
	mux.HandleFunc("POST /expense/add-expense", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.next++
		e := map[string]any{
			"id":           f.next,
			"amount":       strconv.FormatFloat(body["amount"].(float64), 'f', 2, 64),
			"category":     body["category"],
			"description":  body["description"],
			"expense_date": body["date"],
			"user_id":      body["user_id"],
		}
		f.expenses[strconv.Itoa(f.next)] = e
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"expense": e})
	})
	mux.HandleFunc("PUT /expense/edit-expense/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		e, ok := f.expenses[r.PathValue("id")]
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
	})
	mux.HandleFunc("DELETE /expense/delete-expense/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.expenses[r.PathValue("id")]; !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Expense not found"}`))
			return
		}
		delete(f.expenses, r.PathValue("id"))
		w.Write([]byte(`{"message":"Expense deleted"}`))
	})
	return httptest.NewServer(mux)
}

func testEnv(t *testing.T) *env {
	t.Helper()
	srv := newFakeService()
	t.Cleanup(srv.Close)

	e := &env{
		now: func() time.Time { return testNow },
		open: func(ctx context.Context, _ string) (*cli.App, error) {
			return cli.NewApp(ctx, &config.Config{
				APIBaseURL:     srv.URL,
				APITimeout:     5 * time.Second,
				SessionBackend: config.SessionMemory,
				ListCacheTTL:   time.Minute,
				ListCacheSize:  4,
				PageSize:       5,
			}, applog.Discard())
		},
	}
	t.Cleanup(e.close)
	return e
}

func run(e *env, stdin string, args ...string) (string, error) {
	out := &bytes.Buffer{}
	e.stdout = out
	e.stdin = strings.NewReader(stdin)
	e.lines = nil

	root := newRootCmd(e)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSessionCommands(t *testing.T) {
	e := testEnv(t)

	_, err := run(e, "", "whoami")
	assert.ErrorIs(t, err, core.ErrAuth)

	_, err = run(e, "wrong12\n", "login", "--name", "alice")
	assert.ErrorIs(t, err, core.ErrAuth)

	out, err := run(e, "secret1\n", "login", "--name", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as alice")

	out, err = run(e, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "alice (id 7)")
	assert.Contains(t, out, "no expiry")

	out, err = run(e, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	_, err = run(e, "", "whoami")
	assert.ErrorIs(t, err, core.ErrAuth)
}

func TestRegisterCommand(t *testing.T) {
	e := testEnv(t)

	_, err := run(e, "secret1\nsecret2\n", "register", "--name", "bob")
	assert.ErrorIs(t, err, core.ErrPasswordsMismatch)

	out, err := run(e, "secret1\nsecret1\n", "register", "--name", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "User registered successfully")

	_, err = run(e, "", "whoami")
	assert.ErrorIs(t, err, core.ErrAuth, "registering must not log in")
}

func TestExpenseCommands(t *testing.T) {
	e := testEnv(t)
	_, err := run(e, "secret1\n", "login", "--name", "alice")
	require.NoError(t, err)

	out, err := run(e, "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No expenses found")

	_, err = run(e, "", "add", "-a", "0", "-c", "Food", "-d", "pizza")
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	out, err = run(e, "", "add", "-a", "12,50", "-c", "Food", "-d", "pizza", "--date", "2024-03-01")
	require.NoError(t, err)
	assert.Contains(t, out, "Added expense 1: ₹12.50 Food on 01/03/2024")

	out, err = run(e, "", "add", "-a", "20", "-c", "Transport", "-d", "train")
	require.NoError(t, err)
	assert.Contains(t, out, "on 14/03/2024", "date defaults to today")

	out, err = run(e, "", "list", "--sort", "amount", "--desc")
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "train"), strings.Index(out, "pizza"))
	assert.Contains(t, out, "Showing 1 to 2 of 2 (page 1 of 1)")

	out, err = run(e, "", "list", "--page-size", "1", "--page", "2", "--sort", "date")
	require.NoError(t, err)
	assert.Contains(t, out, "train")
	assert.NotContains(t, out, "pizza")

	out, err = run(e, "", "edit", "1", "--amount", "15")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated expense 1: ₹15.00 Food on 01/03/2024")

	_, err = run(e, "", "edit", "99", "--amount", "15")
	assert.ErrorIs(t, err, core.ErrNotFound)

	out, err = run(e, "", "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "₹35.00")
	assert.Contains(t, out, "This week")
	assert.Contains(t, out, "Transport")

	out, err = run(e, "", "export", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Date\tDescription\tCategory\tAmount")
	assert.Contains(t, out, "Total\t35")

	out, err = run(e, "", "rm", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted expense 1")

	_, err = run(e, "", "rm", "1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	out, err = run(e, "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Showing 1 to 1 of 1")
}

func TestExportNeedsSheetSettings(t *testing.T) {
	e := testEnv(t)
	_, err := run(e, "secret1\n", "login", "--name", "alice")
	require.NoError(t, err)

	_, err = run(e, "", "export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOOGLE_SPREADSHEET_ID")
}

func TestWatchWithoutFeed(t *testing.T) {
	e := testEnv(t)
	_, err := run(e, "", "watch")
	assert.ErrorIs(t, err, errNoFeed)
}

func TestReadSecretFromPipe(t *testing.T) {
	out := &bytes.Buffer{}
	e := &env{stdin: strings.NewReader("first\r\nsecond"), stdout: out}

	first, err := e.readSecret("Password: ")
	require.NoError(t, err)
	second, err := e.readSecret("Confirm: ")
	require.NoError(t, err)
	_, err = e.readSecret("Again: ")

	assert.Equal(t, "first", first)
	assert.Equal(t, "second", second)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "Password: Confirm: Again: ", out.String())
}

func TestFormatChange(t *testing.T) {
	c := core.Change{Op: core.OpRemoved, ExpenseID: "4", At: testNow}
	assert.Contains(t, formatChange(c), "expense 4 removed (unknown owner)")

	c.OwnerID = "7"
	assert.Contains(t, formatChange(c), "(owner 7)")
}
