// Package records is the client-side repository for a user's expenses. It
// caches list results per owner and drops them whenever a mutation for that
// owner is acknowledged.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"expensedash/internal/cache"
	"expensedash/internal/core"
	applog "expensedash/internal/log"
)

const (
	pathList   = "/expense/get-expenses/"
	pathCreate = "/expense/add-expense"
	pathUpdate = "/expense/edit-expense/"
	pathRemove = "/expense/delete-expense/"

	// maxListAttempts bounds how many times List refetches when mutations
	// keep overtaking its request.
	maxListAttempts = 4
)

var (
	ErrMissingOwner = errors.New("owner id is required")
	ErrMissingID    = errors.New("expense id is required")
)

// Client is the subset of the API gateway the repository needs.
type Client interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string, out any) error
}

// Notifier is told about every acknowledged mutation.
type Notifier interface {
	Notify(ctx context.Context, change core.Change) error
}

type Options struct {
	CacheTTL  time.Duration
	CacheSize int
	Notifier  Notifier
	Logger    *applog.Logger
	// Manager, when set, periodically evicts expired list entries.
	Manager *cache.Manager
}

type entry struct {
	gen     uint64
	records []core.Expense
}

// Repository is safe for concurrent use.
type Repository struct {
	client   Client
	lists    *cache.LRUCache[entry]
	group    singleflight.Group
	notifier Notifier
	logger   *applog.Logger
	now      func() time.Time

	mu     sync.Mutex
	epoch  uint64
	gens   map[core.ID]uint64
	owners map[core.ID]core.ID
}

func New(client Client, opts Options) *Repository {
	logger := opts.Logger
	if logger == nil {
		logger = applog.Discard()
	}
	size := opts.CacheSize
	if size <= 0 {
		size = 32
	}
	r := &Repository{
		client:   client,
		lists:    cache.NewLRUCache[entry](size, opts.CacheTTL),
		notifier: opts.Notifier,
		logger:   logger.WithComponent(applog.ComponentRecords),
		now:      time.Now,
		gens:     make(map[core.ID]uint64),
		owners:   make(map[core.ID]core.ID),
	}
	if opts.Manager != nil {
		opts.Manager.Register(r.lists)
	}
	return r
}

// generation must be called with mu held. It grows whenever the owner's
// list is invalidated, individually or through InvalidateAll.
func (r *Repository) generation(owner core.ID) uint64 {
	return r.epoch + r.gens[owner]
}

// List returns the owner's records. A cached result is used only if no
// mutation for the owner was acknowledged since it was fetched; a fetch
// overtaken by such a mutation is discarded and issued again.
func (r *Repository) List(ctx context.Context, owner core.ID) ([]core.Expense, error) {
	if owner.IsZero() {
		return nil, core.Invalid(ErrMissingOwner)
	}

	for attempt := 1; attempt <= maxListAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, core.NewError(core.KindFetch, "loading expenses was cancelled", err)
		}

		r.mu.Lock()
		gen := r.generation(owner)
		r.mu.Unlock()

		if e, ok := r.lists.Get(owner.String()); ok && e.gen == gen {
			return clone(e.records), nil
		}

		key := owner.String() + "@" + strconv.FormatUint(gen, 10)
		ch := r.group.DoChan(key, func() (any, error) {
			// Shared by every caller of this generation; one caller giving up
			// must not fail the others.
			return r.fetch(context.WithoutCancel(ctx), owner)
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, core.NewError(core.KindFetch, "loading expenses was cancelled", ctx.Err())
		}
		if res.Err != nil {
			return nil, res.Err
		}
		records := res.Val.([]core.Expense)

		r.mu.Lock()
		if r.generation(owner) != gen {
			r.mu.Unlock()
			r.logger.DebugContext(ctx, "Discarding superseded list fetch",
				applog.FieldOwnerID, owner.String(),
				applog.FieldGeneration, gen)
			continue
		}
		for _, e := range records {
			if !e.ID.IsZero() {
				r.owners[e.ID] = owner
			}
		}
		r.lists.Set(owner.String(), entry{gen: gen, records: records})
		r.mu.Unlock()

		return clone(records), nil
	}

	return nil, core.NewError(core.KindFetch, "expenses changed while loading, please retry", nil)
}

type listResponse struct {
	Expenses []core.Expense `json:"expenses"`
}

func (r *Repository) fetch(ctx context.Context, owner core.ID) ([]core.Expense, error) {
	var res listResponse
	if err := r.client.Get(ctx, pathList+url.PathEscape(owner.String()), &res); err != nil {
		r.logger.WarnContext(ctx, "Failed to list expenses",
			applog.FieldOperation, applog.OpList,
			applog.FieldOwnerID, owner.String(),
			applog.FieldError, err)
		return nil, asKind(err, core.KindFetch)
	}

	records := make([]core.Expense, 0, len(res.Expenses))
	for _, e := range res.Expenses {
		if e.OwnerID.IsZero() {
			e.OwnerID = owner
		}
		records = append(records, e)
	}

	r.logger.DebugContext(ctx, "Expenses fetched",
		applog.FieldOperation, applog.OpList,
		applog.FieldOwnerID, owner.String(),
		applog.FieldCount, len(records))
	return records, nil
}

type createRequest struct {
	core.Draft
	UserID core.ID `json:"user_id"`
}

// Create validates draft and stores it for owner.
func (r *Repository) Create(ctx context.Context, owner core.ID, draft core.Draft) (core.Expense, error) {
	if owner.IsZero() {
		return core.Expense{}, core.Invalid(ErrMissingOwner)
	}
	if err := draft.Validate(); err != nil {
		return core.Expense{}, err
	}

	var raw json.RawMessage
	if err := r.client.Post(ctx, pathCreate, createRequest{Draft: draft, UserID: owner}, &raw); err != nil {
		r.logFailure(ctx, applog.OpCreate, "", owner, err)
		return core.Expense{}, asKind(err, core.KindWrite)
	}

	rec := decodeRecord(raw, draft)
	if rec.OwnerID.IsZero() {
		rec.OwnerID = owner
	}
	r.acknowledge(ctx, core.OpCreated, rec.ID, owner, rec)
	return rec, nil
}

// Update replaces the editable fields of the record with id.
func (r *Repository) Update(ctx context.Context, id core.ID, draft core.Draft) (core.Expense, error) {
	if id.IsZero() {
		return core.Expense{}, core.Invalid(ErrMissingID)
	}
	if err := draft.Validate(); err != nil {
		return core.Expense{}, err
	}

	var raw json.RawMessage
	if err := r.client.Put(ctx, pathUpdate+url.PathEscape(id.String()), draft, &raw); err != nil {
		r.logFailure(ctx, applog.OpUpdate, id, "", err)
		return core.Expense{}, asKind(err, core.KindWrite)
	}

	rec := decodeRecord(raw, draft)
	if rec.ID.IsZero() {
		rec.ID = id
	}
	owner := rec.OwnerID
	if owner.IsZero() {
		owner = r.ownerOf(id)
		rec.OwnerID = owner
	}
	r.acknowledge(ctx, core.OpUpdated, id, owner, rec)
	return rec, nil
}

// Remove deletes the record with id.
func (r *Repository) Remove(ctx context.Context, id core.ID) error {
	if id.IsZero() {
		return core.Invalid(ErrMissingID)
	}

	if err := r.client.Delete(ctx, pathRemove+url.PathEscape(id.String()), nil); err != nil {
		r.logFailure(ctx, applog.OpDelete, id, "", err)
		return asKind(err, core.KindWrite)
	}

	owner := r.ownerOf(id)
	r.mu.Lock()
	delete(r.owners, id)
	r.mu.Unlock()
	r.acknowledge(ctx, core.OpRemoved, id, owner, core.Expense{ID: id})
	return nil
}

// Invalidate marks the owner's cached list as stale, including any fetch
// still in flight.
func (r *Repository) Invalidate(owner core.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[owner]++
	r.lists.Delete(owner.String())
}

// InvalidateAll marks every cached list as stale.
func (r *Repository) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	r.lists.Purge()
}

func (r *Repository) ownerOf(id core.ID) core.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners[id]
}

// acknowledge runs after the server accepted a mutation.
func (r *Repository) acknowledge(ctx context.Context, op core.Op, id, owner core.ID, rec core.Expense) {
	if owner.IsZero() {
		r.InvalidateAll()
	} else {
		r.mu.Lock()
		if !id.IsZero() && op != core.OpRemoved {
			r.owners[id] = owner
		}
		r.mu.Unlock()
		r.Invalidate(owner)
	}

	r.logger.InfoContext(ctx, "Expense "+string(op),
		applog.NewFields().
			WithOperation(opName(op)).
			WithExpense(id.String(), owner.String(), rec.Amount.Cents, rec.Category).
			ToSlice()...)

	if r.notifier == nil {
		return
	}
	change := core.Change{Op: op, OwnerID: owner, ExpenseID: id, At: r.now().UTC()}
	if err := r.notifier.Notify(ctx, change); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish change",
			applog.FieldOperation, applog.OpPublish,
			applog.FieldExpenseID, id.String(),
			applog.FieldError, err)
	}
}

func (r *Repository) logFailure(ctx context.Context, op string, id, owner core.ID, err error) {
	r.logger.WarnContext(ctx, "Expense mutation failed",
		applog.FieldOperation, op,
		applog.FieldExpenseID, id.String(),
		applog.FieldOwnerID, owner.String(),
		applog.FieldErrorKind, string(core.KindOf(err)),
		applog.FieldError, err)
}

func opName(op core.Op) string {
	switch op {
	case core.OpCreated:
		return applog.OpCreate
	case core.OpUpdated:
		return applog.OpUpdate
	default:
		return applog.OpDelete
	}
}

// decodeRecord reads the record echoed by the server, which may be wrapped
// in an "expense" field. Missing fields are filled from draft.
func decodeRecord(raw json.RawMessage, draft core.Draft) core.Expense {
	fallback := core.Expense{
		Amount:      draft.Amount,
		Category:    draft.Category,
		Description: draft.Description,
		Date:        draft.Date,
	}
	if len(raw) == 0 {
		return fallback
	}

	var wrapped struct {
		Expense *core.Expense `json:"expense"`
	}
	rec := fallback
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Expense != nil {
		rec = *wrapped.Expense
	} else if err := json.Unmarshal(raw, &rec); err != nil {
		return fallback
	}

	if rec.Amount.Cents == 0 {
		rec.Amount = draft.Amount
	}
	if rec.Category == "" {
		rec.Category = draft.Category
	}
	if rec.Description == "" {
		rec.Description = draft.Description
	}
	if rec.Date.IsZero() {
		rec.Date = draft.Date
	}
	return rec
}

// asKind keeps typed failures as they are and classifies anything else.
func asKind(err error, kind core.Kind) error {
	if core.KindOf(err) != "" {
		return err
	}
	return core.NewError(kind, fmt.Sprintf("%s failed", kind), err)
}

func clone(records []core.Expense) []core.Expense {
	out := make([]core.Expense, len(records))
	copy(out, records)
	return out
}
