package domain

import (
	"regexp"
	"strings"
)

var (
	skuPattern  = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{1,63}$`)
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// SKU is a stock keeping unit code such as "ETH-YIRG-12OZ".
type SKU string

// NewSKU normalises s to upper case and validates its shape.
func NewSKU(s string) (SKU, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !skuPattern.MatchString(s) {
		return "", NewValidationError("sku.new", "sku", "must be 2-64 characters of A-Z, 0-9 and dashes")
	}
	return SKU(s), nil
}

func (s SKU) String() string { return string(s) }

// Slug is a URL-safe product identifier such as "ethiopia-yirgacheffe".
type Slug string

// NewSlug validates a lower-case, dash-separated slug.
func NewSlug(s string) (Slug, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || len(s) > 128 || !slugPattern.MatchString(s) {
		return "", NewValidationError("slug.new", "slug", "must be lower-case words separated by dashes")
	}
	return Slug(s), nil
}

func (s Slug) String() string { return string(s) }

// Address is a postal address value. Orders reference stored addresses by id;
// this type validates addresses before they are stored.
type Address struct {
	FullName    string `json:"full_name"`
	Line1       string `json:"line1"`
	Line2       string `json:"line2,omitempty"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
}

// NewAddress trims and validates the required fields.
func NewAddress(a Address) (Address, error) {
	a.FullName = strings.TrimSpace(a.FullName)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.CountryCode = strings.ToUpper(strings.TrimSpace(a.CountryCode))

	var err error
	if a.FullName == "" {
		err = AddFieldError(err, "full_name", "is required")
	}
	if a.Line1 == "" {
		err = AddFieldError(err, "line1", "is required")
	}
	if a.City == "" {
		err = AddFieldError(err, "city", "is required")
	}
	if a.PostalCode == "" {
		err = AddFieldError(err, "postal_code", "is required")
	}
	if len(a.CountryCode) != 2 {
		err = AddFieldError(err, "country_code", "must be a 2-letter country code")
	}
	if err != nil {
		err.(*ValidationError).Op = "address.new"
		return Address{}, err
	}
	return a, nil
}
