package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"expensedash/internal/core"
)

type fixedSession core.Session

func (f fixedSession) Current() core.Session { return core.Session(f) }

func TestCheck(t *testing.T) {
	loggedIn := fixedSession{User: &core.User{ID: "1"}, Token: "t"}

	d := New(loggedIn).Check("/dashboard")
	assert.True(t, d.Admit)
	assert.Empty(t, d.Redirect)

	d = New(fixedSession{}).Check("/dashboard?page=2")
	assert.False(t, d.Admit)
	assert.Equal(t, "/dashboard?page=2", d.From)
	assert.Equal(t, "/?from=%2Fdashboard%3Fpage%3D2", d.Redirect)
}

func TestCheck_DropsUnsafeFrom(t *testing.T) {
	for _, requested := range []string{"", "https://evil.example/", "//evil.example", "/\\evil", "dashboard"} {
		d := New(fixedSession{}).Check(requested)
		assert.False(t, d.Admit, requested)
		assert.Empty(t, d.From, requested)
		assert.Equal(t, EntryPath, d.Redirect, requested)
	}
}

func TestCheck_TokenWithoutUserIsRejected(t *testing.T) {
	d := New(fixedSession{Token: "orphan"}).Check("/dashboard")
	assert.False(t, d.Admit)
}

func TestAfterLogin(t *testing.T) {
	assert.Equal(t, "/dashboard?page=2", AfterLogin("/dashboard?page=2"))
	assert.Equal(t, HomePath, AfterLogin(""))
	assert.Equal(t, HomePath, AfterLogin("/"))
	assert.Equal(t, HomePath, AfterLogin("//evil.example/x"))
	assert.Equal(t, HomePath, AfterLogin("javascript:alert(1)"))
}
