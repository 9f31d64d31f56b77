// Package guard decides whether a protected view may be shown.
package guard

import (
	"net/url"
	"strings"

	"expensedash/internal/core"
)

const (
	// EntryPath is where unauthenticated visitors are sent.
	EntryPath = "/"
	// HomePath is the landing view after login.
	HomePath = "/dashboard"
)

// SessionSource exposes the current session.
type SessionSource interface {
	Current() core.Session
}

type Guard struct {
	sessions SessionSource
}

func New(sessions SessionSource) *Guard {
	return &Guard{sessions: sessions}
}

// Decision is the outcome of a Check. When Admit is false, Redirect is the
// location to send the visitor to and From the location to return to after
// login (empty if it could not be kept).
type Decision struct {
	Admit    bool
	Redirect string
	From     string
}

// Check admits requested iff a user is logged in.
func (g *Guard) Check(requested string) Decision {
	if sess := g.sessions.Current(); sess.User != nil && !sess.User.ID.IsZero() {
		return Decision{Admit: true}
	}

	from := ""
	if SafePath(requested) {
		from = requested
	}
	redirect := EntryPath
	if from != "" {
		redirect += "?" + url.Values{"from": {from}}.Encode()
	}
	return Decision{Redirect: redirect, From: from}
}

// AfterLogin returns where to go once logged in: from when it is a safe
// local path, the dashboard otherwise.
func AfterLogin(from string) string {
	if SafePath(from) && from != EntryPath {
		return from
	}
	return HomePath
}

// SafePath reports whether p is a same-site absolute path. Anything that a
// browser could resolve to another host is rejected.
func SafePath(p string) bool {
	if p == "" || !strings.HasPrefix(p, "/") {
		return false
	}
	if strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") || strings.ContainsAny(p, "\r\n\t") {
		return false
	}
	u, err := url.Parse(p)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}
