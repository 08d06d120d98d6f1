package core

import (
	"net/url"
	"strings"
)

// TransactionFilter narrows the transaction list. Zero fields are omitted.
type TransactionFilter struct {
	CategoryID ID
	Type       TransactionType
	StartDate  Date
	EndDate    Date
}

// Values encodes the filter as query parameters.
func (f TransactionFilter) Values() url.Values {
	v := url.Values{}
	if !f.CategoryID.IsZero() {
		v.Set("categoryId", f.CategoryID.String())
	}
	if f.Type != "" {
		v.Set("type", string(f.Type))
	}
	if !f.StartDate.IsZero() {
		v.Set("startDate", f.StartDate.String())
	}
	if !f.EndDate.IsZero() {
		v.Set("endDate", f.EndDate.String())
	}
	return v
}

// Encode is the stable, sorted form of Values.
func (f TransactionFilter) Encode() string {
	return f.Values().Encode()
}

// Validate rejects inverted date ranges and unknown types.
func (f TransactionFilter) Validate() error {
	v := ValidationErrors{}
	if f.Type != "" && !f.Type.Valid() {
		v.Add("type", "Transaction type must be income or expense")
	}
	if !f.StartDate.IsZero() && !f.EndDate.IsZero() && f.EndDate.Before(f.StartDate.Time) {
		v.Add("endDate", "End date must not be before start date")
	}
	return v.Err()
}

// ParseFilter reads a filter from query parameters named as in Values.
// Unparseable dates are reported with the regular validation messages.
func ParseFilter(q url.Values) (TransactionFilter, error) {
	f := TransactionFilter{
		CategoryID: ID(strings.TrimSpace(q.Get("categoryId"))),
		Type:       TransactionType(strings.ToLower(strings.TrimSpace(q.Get("type")))),
	}
	errs := ValidationErrors{}
	for field, dst := range map[string]*Date{"startDate": &f.StartDate, "endDate": &f.EndDate} {
		v := strings.TrimSpace(q.Get(field))
		if v == "" {
			continue
		}
		d, err := ParseDate(v)
		if err != nil {
			errs.Add(field, "Invalid date")
			continue
		}
		*dst = d
	}
	if err := errs.Err(); err != nil {
		return f, err
	}
	return f, f.Validate()
}
