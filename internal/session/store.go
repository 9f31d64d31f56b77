// Package session keeps the authenticated identity of this device and
// persists it to a durable slot so it survives restarts.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"expensedash/internal/core"
	applog "expensedash/internal/log"
)

// ErrInvalidSession is returned when a login would break the user/token pairing.
var ErrInvalidSession = errors.New("session requires both a user and a token")

// Slot is the durable storage for the serialized session. Load returns a nil
// slice when nothing has been stored.
type Slot interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Clear(ctx context.Context) error
}

// Store is the single source of truth for the current session. It is safe
// for concurrent use.
type Store struct {
	mu      sync.RWMutex
	current core.Session
	slot    Slot
	logger  *applog.Logger
	subs    map[chan core.Session]struct{}
}

// Open builds a Store and hydrates it from slot. Missing, unreadable or
// malformed data leaves the store logged out; Open never fails.
func Open(ctx context.Context, slot Slot, logger *applog.Logger) *Store {
	if logger == nil {
		logger = applog.Discard()
	}
	if slot == nil {
		slot = NewMemorySlot()
	}
	s := &Store{
		slot:   slot,
		logger: logger.WithComponent(applog.ComponentSession),
		subs:   make(map[chan core.Session]struct{}),
	}
	s.hydrate(ctx)
	return s
}

func (s *Store) hydrate(ctx context.Context) {
	data, err := s.slot.Load(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Session slot unreadable, starting logged out",
			applog.FieldOperation, applog.OpHydrate,
			applog.FieldError, err)
		return
	}
	if len(data) == 0 {
		return
	}

	sess, err := decode(data)
	if err != nil {
		s.logger.WarnContext(ctx, "Persisted session ignored",
			applog.FieldOperation, applog.OpHydrate,
			applog.FieldError, err)
		return
	}

	s.current = sess
	if sess.Authenticated() {
		args := []any{applog.FieldOperation, applog.OpHydrate, applog.FieldUser, sess.User.ID.String()}
		if exp, ok := TokenExpiry(sess.Token); ok {
			args = append(args, "token_expires", exp)
			if Expired(sess.Token) {
				s.logger.WarnContext(ctx, "Restored session token has expired", args...)
				return
			}
		}
		s.logger.DebugContext(ctx, "Session restored", args...)
	}
}

func decode(data []byte) (core.Session, error) {
	var sess core.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return core.Session{}, fmt.Errorf("decode session: %w", err)
	}
	if !sess.Valid() {
		return core.Session{}, ErrInvalidSession
	}
	if !sess.Authenticated() {
		return core.Session{}, nil
	}
	return sess, nil
}

// Login records user and token as the current session and persists it.
// The in-memory session is updated even when persisting fails; the
// persistence error is still returned.
func (s *Store) Login(ctx context.Context, user core.User, token string) error {
	sess := core.Session{User: &user, Token: token}
	if !sess.Authenticated() {
		return core.Invalid(ErrInvalidSession)
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	s.notify(sess)

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.slot.Save(ctx, data); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist session",
			applog.FieldOperation, applog.OpLogin,
			applog.FieldUser, user.ID.String(),
			applog.FieldError, err)
		return fmt.Errorf("persist session: %w", err)
	}

	s.logger.InfoContext(ctx, "User logged in",
		applog.FieldOperation, applog.OpLogin,
		applog.FieldUser, user.ID.String())
	return nil
}

// Logout clears the session in memory and in the durable slot.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	prev := s.current
	s.current = core.Session{}
	s.mu.Unlock()
	s.notify(core.Session{})

	if err := s.slot.Clear(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Failed to clear persisted session",
			applog.FieldOperation, applog.OpLogout,
			applog.FieldError, err)
		return fmt.Errorf("clear session: %w", err)
	}

	if prev.User != nil {
		s.logger.InfoContext(ctx, "User logged out",
			applog.FieldOperation, applog.OpLogout,
			applog.FieldUser, prev.User.ID.String())
	}
	return nil
}

// Current returns a copy of the current session. No network access.
func (s *Store) Current() core.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.current)
}

// User returns the logged in user, if any.
func (s *Store) User() (core.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current.User == nil {
		return core.User{}, false
	}
	return *s.current.User, true
}

// Token returns the bearer token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Token
}

// Subscribe returns a channel that receives the session after every login
// and logout. Slow readers only see the latest value. Call the returned
// function to unsubscribe.
func (s *Store) Subscribe() (<-chan core.Session, func()) {
	ch := make(chan core.Session, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) notify(sess core.Session) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- clone(sess):
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- clone(sess):
			default:
			}
		}
	}
}

func clone(sess core.Session) core.Session {
	if sess.User != nil {
		u := *sess.User
		sess.User = &u
	}
	return sess
}
