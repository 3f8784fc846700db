// Package gateway is the adapter for the payment gateway REST API: profile
// creation, card lookup and immediate-capture charges.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/snowline/renewal-checkout/internal/httpclient"
	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/models"
	"github.com/snowline/renewal-checkout/internal/money"
)

// DefaultCardID is the first card added when a profile is created.
const DefaultCardID = 1

// PaymentProfile is a gateway-side reusable card reference.
type PaymentProfile struct {
	CustomerCode string `json:"customer_code"`
	CardID       int    `json:"card_id"`
}

// ChargeResult is the outcome of one charge call. Ambiguous means no usable
// answer came back and the funds status is unknown.
type ChargeResult struct {
	Approved      bool   `json:"approved"`
	TransactionID string `json:"transaction_id,omitempty"`
	AuthCode      string `json:"auth_code,omitempty"`
	DeclineReason string `json:"decline_reason,omitempty"`
	Ambiguous     bool   `json:"ambiguous,omitempty"`
}

type ProfileCharge struct {
	CustomerCode string
	CardID       int
	Amount       money.Money
	OrderNumber  string
}

type TokenCharge struct {
	Token       string
	Name        string
	Amount      money.Money
	OrderNumber string
}

type Client struct {
	cfg      Config
	payments *httpclient.Client
	profiles *httpclient.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg: cfg,
		payments: httpclient.NewClient(cfg.BaseURL, cfg.timeout(),
			httpclient.WithHeader("Authorization", cfg.paymentsAuth())),
		profiles: httpclient.NewClient(cfg.BaseURL, cfg.timeout(),
			httpclient.WithHeader("Authorization", cfg.profilesAuth())),
	}, nil
}

func (c *Client) Environment() string {
	return c.cfg.Environment
}

// CreateProfile consumes the single-use token. It must be the first gateway
// call of a checkout.
func (c *Client) CreateProfile(ctx context.Context, token string, billing models.BillingInfo) (PaymentProfile, error) {
	log := logger.FromContext(ctx)

	req := profileRequest{
		Language: "en",
		Token:    tokenInfo{Name: billing.Name, Code: token},
		Billing: billingAddress{
			Name:         billing.Name,
			AddressLine1: billing.AddressLine1,
			AddressLine2: billing.AddressLine2,
			City:         billing.City,
			Province:     billing.Province,
			Country:      billing.Country,
			PostalCode:   billing.PostalCode,
			PhoneNumber:  billing.Phone,
			EmailAddress: billing.Email,
		},
	}

	start := time.Now()
	var resp profileResponse
	err := c.profiles.Post(ctx, "/profiles", req, &resp)
	log.Info("gateway profile request", "duration_ms", time.Since(start).Milliseconds(), "error", errString(err))

	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			body := parseErrorBody(se.Body)
			if se.StatusCode == http.StatusPaymentRequired && body.Code == DuplicateCode {
				return PaymentProfile{}, &DuplicateProfileError{Message: body.Message}
			}
			msg := body.Message
			if msg == "" {
				msg = http.StatusText(se.StatusCode)
			}
			return PaymentProfile{}, &ProfileCreationError{StatusCode: se.StatusCode, Code: body.Code, Message: msg}
		}
		return PaymentProfile{}, &ProfileCreationError{Message: err.Error()}
	}

	if resp.Code == DuplicateCode {
		return PaymentProfile{}, &DuplicateProfileError{Message: resp.Message}
	}
	if resp.CustomerCode == "" {
		msg := resp.Message
		if msg == "" {
			msg = "gateway returned no customer code"
		}
		return PaymentProfile{}, &ProfileCreationError{StatusCode: http.StatusOK, Code: resp.Code, Message: msg}
	}

	return PaymentProfile{CustomerCode: resp.CustomerCode}, nil
}

// ResolveCardID returns the first card on the profile, or DefaultCardID when
// the lookup fails or lists nothing.
func (c *Client) ResolveCardID(ctx context.Context, customerCode string) int {
	log := logger.FromContext(ctx)

	raw, err := c.profiles.DoRaw(ctx, http.MethodGet, "/profiles/"+url.PathEscape(customerCode)+"/cards", nil)
	if err != nil {
		log.Warn("card lookup failed, using default card", "customer_code", customerCode, "error", err)
		return DefaultCardID
	}

	id, ok := parseFirstCardID(raw)
	if !ok {
		log.Warn("card lookup returned no cards, using default card", "customer_code", customerCode)
		return DefaultCardID
	}
	return id
}

// ChargeByProfile captures amount against a stored profile card.
func (c *Client) ChargeByProfile(ctx context.Context, charge ProfileCharge) ChargeResult {
	return c.charge(ctx, paymentRequest{
		Amount:        charge.Amount,
		PaymentMethod: "payment_profile",
		OrderNumber:   charge.OrderNumber,
		Complete:      true,
		PaymentProfile: &profileMethod{
			CustomerCode: charge.CustomerCode,
			CardID:       charge.CardID,
			Complete:     true,
		},
	})
}

// ChargeByToken captures amount against a single-use token.
func (c *Client) ChargeByToken(ctx context.Context, charge TokenCharge) ChargeResult {
	return c.charge(ctx, paymentRequest{
		Amount:        charge.Amount,
		PaymentMethod: "token",
		OrderNumber:   charge.OrderNumber,
		Complete:      true,
		Token: &tokenInfo{
			Name:     charge.Name,
			Code:     charge.Token,
			Complete: true,
		},
	})
}

func (c *Client) charge(ctx context.Context, req paymentRequest) ChargeResult {
	log := logger.FromContext(ctx).With("payment_method", req.PaymentMethod, "amount", req.Amount.String())

	start := time.Now()
	raw, err := c.payments.DoRaw(ctx, http.MethodPost, "/payments", req)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode != http.StatusRequestTimeout && se.StatusCode < 500 {
			msg := parseErrorBody(se.Body).Message
			if msg == "" {
				msg = fmt.Sprintf("payment declined (HTTP %d)", se.StatusCode)
			}
			log.Info("gateway charge declined", "status", se.StatusCode, "reason", msg, "duration_ms", elapsed)
			return ChargeResult{DeclineReason: msg}
		}

		log.Error("gateway charge outcome unknown", "error", err, "duration_ms", elapsed)
		return ChargeResult{
			Ambiguous:     true,
			DeclineReason: "no confirmation from the payment gateway; payment status unknown",
		}
	}

	var resp paymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		log.Error("gateway charge response unreadable", "error", err, "duration_ms", elapsed)
		return ChargeResult{
			Ambiguous:     true,
			DeclineReason: "unreadable response from the payment gateway; payment status unknown",
		}
	}

	if !resp.Approved {
		msg := resp.Message
		if msg == "" {
			msg = "payment declined"
		}
		log.Info("gateway charge declined", "reason", msg, "transaction_id", string(resp.ID), "duration_ms", elapsed)
		return ChargeResult{TransactionID: string(resp.ID), DeclineReason: msg}
	}

	log.Info("gateway charge approved", "transaction_id", string(resp.ID), "duration_ms", elapsed)
	return ChargeResult{
		Approved:      true,
		TransactionID: string(resp.ID),
		AuthCode:      resp.AuthCode,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
