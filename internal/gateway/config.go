package gateway

import (
	"encoding/base64"
	"time"

	"github.com/snowline/renewal-checkout/internal/models"
)

// Config selects one gateway environment and its credentials. It is built
// once at startup and passed to NewClient; nothing else reads credentials.
type Config struct {
	Environment      string
	BaseURL          string
	MerchantID       string
	PaymentsPasscode string
	// ProfilesPasscode falls back to PaymentsPasscode when empty.
	ProfilesPasscode string
	Currency         string
	Timeout          time.Duration
}

// Validate reports every missing setting at once.
func (c Config) Validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "gateway base_url")
	}
	if c.MerchantID == "" {
		missing = append(missing, "GATEWAY_MERCHANT_ID")
	}
	if c.PaymentsPasscode == "" {
		missing = append(missing, "GATEWAY_PAYMENTS_PASSCODE")
	}
	if len(missing) > 0 {
		return &models.ConfigurationError{Component: "payment gateway (" + c.Environment + ")", Missing: missing}
	}
	return nil
}

func (c Config) paymentsAuth() string {
	return passcodeHeader(c.MerchantID, c.PaymentsPasscode)
}

func (c Config) profilesAuth() string {
	if c.ProfilesPasscode == "" {
		return c.paymentsAuth()
	}
	return passcodeHeader(c.MerchantID, c.ProfilesPasscode)
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

func passcodeHeader(merchantID, passcode string) string {
	return "Passcode " + base64.StdEncoding.EncodeToString([]byte(merchantID+":"+passcode))
}
