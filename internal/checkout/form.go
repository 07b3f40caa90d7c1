package checkout

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

// Form is the customer data captured before an order is created.
type Form struct {
	Name                string
	Email               string
	Phone               string
	PickupTime          *time.Time
	SpecialInstructions string
	// OrderType defaults to pickup. Shipping orders need no pickup time.
	OrderType domain.OrderType
}

// ValidationError lists invalid form fields and the reason for each.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("checkout: invalid form (%s)", strings.Join(parts, "; "))
}

// ValidateForm checks name, email format, a 10 digit phone number and that a
// pickup time was chosen for pickup orders. The normalized form is returned on success.
func ValidateForm(form Form) (Form, error) {
	fields := map[string]string{}
	form.Name = strings.TrimSpace(form.Name)
	form.Email = strings.TrimSpace(form.Email)
	form.SpecialInstructions = strings.TrimSpace(form.SpecialInstructions)

	if form.Name == "" {
		fields["name"] = "required"
	}
	if form.Email == "" {
		fields["email"] = "required"
	} else if !validEmail(form.Email) {
		fields["email"] = "invalid format"
	}
	digits := PhoneDigits(form.Phone)
	if len(digits) != 10 {
		fields["phone"] = "must contain 10 digits"
	} else {
		form.Phone = digits
	}
	if form.OrderType == "" {
		form.OrderType = domain.OrderTypePickup
	}
	if !form.OrderType.Valid() {
		fields["orderType"] = "invalid"
	} else if form.OrderType == domain.OrderTypePickup && (form.PickupTime == nil || form.PickupTime.IsZero()) {
		fields["pickupTime"] = "required"
	}
	if len(fields) > 0 {
		return form, &ValidationError{Fields: fields}
	}
	return form, nil
}

// PhoneDigits strips everything but digits from a phone number.
func PhoneDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}
