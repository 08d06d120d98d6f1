package core

import (
	"errors"
	"net/mail"
	"sort"
	"strconv"
	"strings"
)

// ValidationErrors maps a form field to the message shown next to it.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records the first message for a field.
func (v ValidationErrors) Add(field, msg string) {
	if _, ok := v[field]; !ok {
		v[field] = msg
	}
}

// Err returns nil when no field failed.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

type (
	Credentials struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	Registration struct {
		Username        string `json:"username"`
		Email           string `json:"email"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"-"`
	}

	ProfileUpdate struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}

	PasswordChange struct {
		NewPassword string `json:"newPassword"`
	}

	CategoryInput struct {
		Name string          `json:"name"`
		Type TransactionType `json:"type"`
	}

	TransactionInput struct {
		Type        TransactionType `json:"type"`
		CategoryID  ID              `json:"categoryId"`
		Date        Date            `json:"date"`
		Description string          `json:"description"`
		Amount      Money           `json:"amount"`
	}
)

const maxDescriptionLen = 200

func (c Credentials) Validate() error {
	v := ValidationErrors{}
	checkEmail(v, c.Email)
	checkPassword(v, "password", c.Password, 5)
	return v.Err()
}

func (r Registration) Validate() error {
	v := ValidationErrors{}
	if strings.TrimSpace(r.Username) == "" {
		v.Add("username", "Username is required")
	}
	checkEmail(v, r.Email)
	checkPassword(v, "password", r.Password, 6)
	if r.ConfirmPassword == "" {
		v.Add("confirmPassword", "Confirming your password is required")
	} else if r.ConfirmPassword != r.Password {
		v.Add("confirmPassword", "Passwords must match")
	}
	return v.Err()
}

func (p ProfileUpdate) Validate() error {
	v := ValidationErrors{}
	if strings.TrimSpace(p.Username) == "" {
		v.Add("username", "Username is required")
	}
	checkEmail(v, p.Email)
	return v.Err()
}

func (p PasswordChange) Validate() error {
	v := ValidationErrors{}
	checkPassword(v, "newPassword", p.NewPassword, 5)
	return v.Err()
}

func (c CategoryInput) Validate() error {
	v := ValidationErrors{}
	if strings.TrimSpace(c.Name) == "" {
		v.Add("name", "Category name is required")
	}
	if c.Type == "" {
		v.Add("type", "Category type is required")
	} else if !c.Type.Valid() {
		v.Add("type", "Category type must be income or expense")
	}
	return v.Err()
}

func (t TransactionInput) Validate() error {
	v := ValidationErrors{}
	if t.Type == "" {
		v.Add("type", "Transaction type is required")
	} else if !t.Type.Valid() {
		v.Add("type", "Transaction type must be income or expense")
	}
	if t.Amount.Validate() != nil {
		v.Add("amount", "Amount must be positive")
	}
	if t.CategoryID.IsZero() {
		v.Add("categoryId", "Category is required")
	}
	if t.Date.IsZero() {
		v.Add("date", "Date is required")
	}
	if len(t.Description) > maxDescriptionLen {
		v.Add("description", "Description too long (max 200 characters)")
	}
	return v.Err()
}

func checkEmail(v ValidationErrors, email string) {
	email = strings.TrimSpace(email)
	if email == "" {
		v.Add("email", "Email is required")
		return
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		v.Add("email", "Invalid email address")
	}
}

func checkPassword(v ValidationErrors, field, pw string, minLen int) {
	if pw == "" {
		v.Add(field, "Password is required")
		return
	}
	if len(pw) < minLen {
		v.Add(field, "Password must be at least "+strconv.Itoa(minLen)+" characters long")
	}
}

// ParseTransactionInput converts raw form values into an input. Fields that
// cannot be parsed are reported together with the regular validation
// messages; a nil error means the input is valid.
func ParseTransactionInput(typ, amount, categoryID, date, description string) (TransactionInput, error) {
	in := TransactionInput{
		Type:        TransactionType(strings.ToLower(strings.TrimSpace(typ))),
		CategoryID:  ID(strings.TrimSpace(categoryID)),
		Description: description,
	}
	errs := ValidationErrors{}

	if v := strings.TrimSpace(amount); v != "" {
		cents, err := ParseDecimalToCents(v)
		if err != nil {
			errs.Add("amount", "Amount must be a positive number")
		}
		in.Amount = Money{Cents: cents}
	}
	if v := strings.TrimSpace(date); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			errs.Add("date", "Invalid date")
		}
		in.Date = d
	}

	var verr ValidationErrors
	if errors.As(in.Validate(), &verr) {
		for f, msg := range verr {
			errs.Add(f, msg)
		}
	}
	return in, errs.Err()
}
