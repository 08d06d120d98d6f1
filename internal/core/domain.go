package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const dateLayout = "2006-01-02"

type (
	// ID is an opaque backend identifier. The backend emits both numeric
	// and string ids, so both are accepted on receipt.
	ID string

	TransactionType string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	User struct {
		ID    ID     `json:"id"`
		Name  string `json:"username"`
		Email string `json:"email"`
	}

	Category struct {
		ID   ID              `json:"id"`
		Name string          `json:"name"`
		Type TransactionType `json:"type"`
	}

	Transaction struct {
		ID          ID              `json:"id"`
		Type        TransactionType `json:"type"`
		CategoryID  ID              `json:"categoryId"`
		Category    string          `json:"category,omitempty"`
		Date        Date            `json:"date"`
		Description string          `json:"description"`
		Amount      Money           `json:"amount"`
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrEmptyIdentity    = errors.New("identity without id")
	ErrMalformedPayload = errors.New("malformed payload")
)

// String implements fmt.Stringer
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the id is empty
func (id ID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: id %s", ErrMalformedPayload, data)
	}
	*id = ID(n.String())
	return nil
}

// Valid reports whether the type is one of income or expense
func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// ParseTransactionType normalizes user input into a TransactionType
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", ErrInvalidType
	}
	return t, nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date in YYYY-MM-DD format, falling back to RFC 3339.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	y, m, d := t.Date()
	return NewDate(y, int(m), d), nil
}

// String formats the date as YYYY-MM-DD, or "" for the zero date
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: date %s", ErrMalformedPayload, data)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
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

// MarshalJSON writes the amount as a decimal number, the backend's wire format.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal()), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("%w: amount %s", ErrMalformedPayload, data)
	}
	m.Cents = roundCents(f)
	return nil
}

// Validate checks the minimum an identity needs to back a session.
func (u User) Validate() error {
	if u.ID.IsZero() {
		return ErrEmptyIdentity
	}
	return nil
}

// UnmarshalJSON accepts both "username" and "name" for the display name and
// "_id" for the identifier.
func (u *User) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       ID     `json:"id"`
		MongoID  ID     `json:"_id"`
		Username string `json:"username"`
		Name     string `json:"name"`
		Email    string `json:"email"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.ID = raw.ID
	if u.ID.IsZero() {
		u.ID = raw.MongoID
	}
	u.Name = raw.Username
	if u.Name == "" {
		u.Name = raw.Name
	}
	u.Email = raw.Email
	return nil
}

func (c *Category) UnmarshalJSON(data []byte) error {
	type plain Category
	var raw struct {
		plain
		MongoID ID `json:"_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Category(raw.plain)
	if c.ID.IsZero() {
		c.ID = raw.MongoID
	}
	return nil
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	type plain Transaction
	var raw struct {
		plain
		MongoID  ID              `json:"_id"`
		Category json.RawMessage `json:"category"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = Transaction(raw.plain)
	if t.ID.IsZero() {
		t.ID = raw.MongoID
	}

	// category is either a plain name or an embedded category document
	cat := bytes.TrimSpace(raw.Category)
	switch {
	case len(cat) == 0 || bytes.Equal(cat, []byte("null")):
	case cat[0] == '"':
		if err := json.Unmarshal(cat, &t.Category); err != nil {
			return err
		}
	case cat[0] == '{':
		var embedded Category
		if err := json.Unmarshal(cat, &embedded); err != nil {
			return err
		}
		t.Category = embedded.Name
		if t.CategoryID.IsZero() {
			t.CategoryID = embedded.ID
		}
	default:
		var id ID
		if err := json.Unmarshal(cat, &id); err != nil {
			return err
		}
		if t.CategoryID.IsZero() {
			t.CategoryID = id
		}
	}
	return nil
}

// Signed returns the amount in cents, negative for expenses.
func (t Transaction) Signed() int64 {
	if t.Type == Expense {
		return -t.Amount.Cents
	}
	return t.Amount.Cents
}
