package checkout

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/snowline/renewal-checkout/internal/models"
	"github.com/snowline/renewal-checkout/internal/money"
)

var postalCodeCA = regexp.MustCompile(`^[A-Z][0-9][A-Z][0-9][A-Z][0-9]$`)

// Request is one checkout submission.
type Request struct {
	Token        string              `json:"token"`
	Amount       money.Money         `json:"amount"`
	Installments int                 `json:"installments"`
	Billing      models.BillingInfo  `json:"billingData"`
	Contract     models.ContractData `json:"contractData"`
}

// Validate checks every field and returns the request with billing data
// normalized. All problems are reported together.
func Validate(req Request) (Request, error) {
	var fields []FieldError
	add := func(field, msg string) {
		fields = append(fields, FieldError{Field: field, Message: msg})
	}

	b := req.Billing
	b.Name = strings.TrimSpace(b.Name)
	b.AddressLine1 = strings.TrimSpace(b.AddressLine1)
	b.AddressLine2 = strings.TrimSpace(b.AddressLine2)
	b.City = strings.TrimSpace(b.City)
	b.Province = strings.TrimSpace(b.Province)
	b.Country = strings.ToUpper(strings.TrimSpace(b.Country))
	b.Phone = strings.TrimSpace(b.Phone)
	b.Email = strings.ToLower(strings.TrimSpace(b.Email))
	b.PostalCode = strings.TrimSpace(b.PostalCode)

	required := []struct {
		field string
		value string
	}{
		{"name", b.Name},
		{"addressLine1", b.AddressLine1},
		{"city", b.City},
		{"province", b.Province},
		{"country", b.Country},
		{"postalCode", b.PostalCode},
		{"phone", b.Phone},
		{"email", b.Email},
	}
	for _, r := range required {
		if r.value == "" {
			add(r.field, "is required")
		}
	}

	if b.Phone != "" && countDigits(b.Phone) < 10 {
		add("phone", "must contain at least 10 digits")
	}

	if b.Email != "" && !strings.Contains(b.Email, "@") {
		add("email", "is not a valid email address")
	}

	if b.Country == "CANADA" {
		b.Country = "CA"
	}
	if b.Country == "CA" && b.PostalCode != "" {
		pc := strings.ToUpper(strings.ReplaceAll(b.PostalCode, " ", ""))
		if !postalCodeCA.MatchString(pc) {
			add("postalCode", "must look like A1A 1A1")
		} else {
			b.PostalCode = pc
		}
	}

	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		add("token", "is required")
	}
	if req.Amount <= 0 {
		add("amount", "must be greater than zero")
	}
	if req.Installments < 1 {
		add("installments", "must be at least 1")
	}

	if len(fields) > 0 {
		return req, &ValidationError{Fields: fields}
	}

	req.Billing = b
	return req, nil
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
