package checkout

import (
	"fmt"
	"strings"

	"github.com/snowline/renewal-checkout/internal/gateway"
	"github.com/snowline/renewal-checkout/internal/models"
)

type (
	ProfileCreationError  = gateway.ProfileCreationError
	DuplicateProfileError = gateway.DuplicateProfileError
	ConfigurationError    = models.ConfigurationError
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rejected field. It is returned before any
// gateway call.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid checkout request: " + strings.Join(parts, "; ")
}

// ChargeDeclinedError carries the gateway's decline message verbatim.
type ChargeDeclinedError struct {
	Reason string
}

func (e *ChargeDeclinedError) Error() string {
	return "charge declined: " + e.Reason
}

// ChargeAmbiguousError means the charge call timed out or the answer was
// unreadable. The card may or may not have been charged.
type ChargeAmbiguousError struct {
	Detail string
}

func (e *ChargeAmbiguousError) Error() string {
	return fmt.Sprintf("charge outcome unknown: %s", e.Detail)
}

// AmbiguousUserMessage is shown when a charge outcome is unknown.
const AmbiguousUserMessage = "We could not confirm whether your payment went through. Please do not retry; our office will verify the charge and contact you."
