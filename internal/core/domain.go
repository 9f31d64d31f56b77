package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Uncategorized is the label used for records without a category.
const Uncategorized = "Uncategorized"

// Categories is the fixed label set offered by the expense forms.
var Categories = []string{
	"Food",
	"Transport",
	"Utilities",
	"Entertainment",
	"Shopping",
	"Healthcare",
	"Education",
	"Others",
}

type (
	// ID is an opaque server-assigned identifier. The API sends ids either as
	// JSON numbers or strings; both decode into the same textual form.
	ID string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	User struct {
		ID   ID     `json:"id"`
		Name string `json:"name,omitempty"`
	}

	// Session is the authenticated identity of this device. The zero value is
	// the logged out state.
	Session struct {
		User  *User  `json:"user"`
		Token string `json:"token"`
	}

	Expense struct {
		ID          ID     `json:"id"`
		Amount      Money  `json:"amount"`
		Category    string `json:"category"`
		Description string `json:"description"`
		Date        Date   `json:"expense_date"`
		OwnerID     ID     `json:"user_id,omitempty"`
	}

	// Draft holds the editable fields of an expense. Updates always submit a
	// full Draft.
	Draft struct {
		Amount      Money  `json:"amount"`
		Category    string `json:"category"`
		Description string `json:"description"`
		Date        Date   `json:"date"`
	}

	Credentials struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
)

var (
	ErrMissingDate       = errors.New("date is required")
	ErrInvalidAmount     = errors.New("amount must be a positive number")
	ErrEmptyDescription  = errors.New("description is required")
	ErrEmptyCategory     = errors.New("category is required")
	ErrEmptyName         = errors.New("name is required")
	ErrShortName         = errors.New("name must be at least 2 characters")
	ErrPasswordLength    = errors.New("password must be between 6 and 12 characters")
	ErrPasswordsMismatch = errors.New("passwords must match")
	ErrDateFormat        = errors.New("date must be in YYYY-MM-DD format")
)

const (
	minPasswordLen = 6
	maxPasswordLen = 12
	minNameLen     = 2
)

func (id ID) String() string { return string(id) }

// IsZero reports whether the id is empty.
func (id ID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes integer ids back as JSON numbers so that servers keyed
// on numeric ids receive the type they issued.
func (id ID) MarshalJSON() ([]byte, error) {
	s := string(id)
	if isCanonicalInt(s) {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

func isCanonicalInt(s string) bool {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return false
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

// Valid reports whether the session respects the user/token invariant: a
// token is present if and only if a user is present.
func (s Session) Valid() bool {
	hasUser := s.User != nil && !s.User.ID.IsZero()
	hasToken := strings.TrimSpace(s.Token) != ""
	return hasUser == hasToken
}

// Authenticated reports whether a user is logged in.
func (s Session) Authenticated() bool {
	return s.User != nil && !s.User.ID.IsZero() && s.Token != ""
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrMissingDate
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// localTimestampLayouts are timestamps without a zone, as SQL drivers
// print them. Fractional seconds are accepted by time.Parse.
var localTimestampLayouts = []string{time.DateTime, "2006-01-02T15:04:05"}

// ParseDate accepts YYYY-MM-DD, an RFC 3339 timestamp or a timestamp
// without a zone. Zoned timestamps keep the UTC calendar date; zoneless
// ones keep their own.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return DateOf(t.UTC()), nil
	}
	for _, layout := range localTimestampLayouts {
		if lt, lerr := time.Parse(layout, s); lerr == nil {
			return DateOf(lt), nil
		}
	}
	return Date{}, err
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(time.DateOnly)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// CategoryLabel returns the category, or Uncategorized when it is blank.
func (e Expense) CategoryLabel() string {
	if c := strings.TrimSpace(e.Category); c != "" {
		return c
	}
	return Uncategorized
}

// Draft returns the editable fields of e, as submitted by an edit form.
func (e Expense) Draft() Draft {
	return Draft{
		Amount:      e.Amount,
		Category:    e.Category,
		Description: e.Description,
		Date:        e.Date,
	}
}

// Validate checks a draft before it is sent anywhere. Failures are returned
// as ValidationError.
func (d Draft) Validate() error {
	if err := d.Amount.Validate(); err != nil {
		return Invalid(err)
	}
	if strings.TrimSpace(d.Category) == "" {
		return Invalid(ErrEmptyCategory)
	}
	if strings.TrimSpace(d.Description) == "" {
		return Invalid(ErrEmptyDescription)
	}
	if err := d.Date.Validate(); err != nil {
		return Invalid(err)
	}
	return nil
}

// ParseDraft builds a validated draft from raw form or flag input. The
// amount accepts a dot or comma separator; an empty date is reported as
// missing.
func ParseDraft(amount, category, description, date string) (Draft, error) {
	cents, err := ParseDecimalToCents(amount)
	if err != nil {
		return Draft{}, Invalid(err)
	}
	d := Draft{
		Amount:      Money{Cents: cents},
		Category:    strings.TrimSpace(category),
		Description: strings.TrimSpace(description),
	}
	if date = strings.TrimSpace(date); date != "" {
		parsed, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return Draft{}, Invalid(ErrDateFormat)
		}
		d.Date = Date{Time: parsed}
	}
	if err := d.Validate(); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// Validate applies the login form rules.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return Invalid(ErrEmptyName)
	}
	if n := len([]rune(c.Password)); n < minPasswordLen || n > maxPasswordLen {
		return Invalid(ErrPasswordLength)
	}
	return nil
}

// ValidateRegistration applies the registration form rules, which are
// stricter than login.
func (c Credentials) ValidateRegistration(confirm string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len([]rune(strings.TrimSpace(c.Name))) < minNameLen {
		return Invalid(ErrShortName)
	}
	if c.Password != confirm {
		return Invalid(ErrPasswordsMismatch)
	}
	return nil
}
