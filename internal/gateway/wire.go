package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/snowline/renewal-checkout/internal/money"
)

type tokenInfo struct {
	Name     string `json:"name"`
	Code     string `json:"code"`
	Complete bool   `json:"complete,omitempty"`
}

type billingAddress struct {
	Name         string `json:"name"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	Province     string `json:"province"`
	Country      string `json:"country"`
	PostalCode   string `json:"postal_code"`
	PhoneNumber  string `json:"phone_number"`
	EmailAddress string `json:"email_address"`
}

type profileRequest struct {
	Language string         `json:"language"`
	Comment  string         `json:"comment,omitempty"`
	Token    tokenInfo      `json:"token"`
	Billing  billingAddress `json:"billing"`
}

type profileResponse struct {
	Code         int    `json:"code"`
	Message      string `json:"message"`
	CustomerCode string `json:"customer_code"`
}

type profileMethod struct {
	CustomerCode string `json:"customer_code"`
	CardID       int    `json:"card_id"`
	Complete     bool   `json:"complete"`
}

type paymentRequest struct {
	Amount         money.Money    `json:"amount"`
	PaymentMethod  string         `json:"payment_method"`
	OrderNumber    string         `json:"order_number,omitempty"`
	Complete       bool           `json:"complete"`
	PaymentProfile *profileMethod `json:"payment_profile,omitempty"`
	Token          *tokenInfo     `json:"token,omitempty"`
}

type paymentResponse struct {
	ID       flexString `json:"id"`
	Approved flexBool   `json:"approved"`
	Message  string     `json:"message"`
	AuthCode string     `json:"auth_code"`
}

type errorBody struct {
	Code     int    `json:"code"`
	Category int    `json:"category"`
	Message  string `json:"message"`
	Details  []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"details"`
}

// parseErrorBody never fails; an unreadable body yields the zero value.
func parseErrorBody(raw []byte) errorBody {
	var body errorBody
	_ = json.Unmarshal(raw, &body)
	if body.Message == "" && len(body.Details) > 0 {
		body.Message = body.Details[0].Message
	}
	return body
}

type card struct {
	CardID flexInt `json:"card_id"`
}

// parseFirstCardID reads a card list. Accepted shapes, tried in order:
//  1. {"card": [...]}
//  2. {"cards": [...]}
//  3. [...]
func parseFirstCardID(raw []byte) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}

	var cards []card
	if raw[0] == '{' {
		var obj struct {
			Card  []card `json:"card"`
			Cards []card `json:"cards"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return 0, false
		}
		cards = obj.Card
		if len(cards) == 0 {
			cards = obj.Cards
		}
	} else if raw[0] == '[' {
		if err := json.Unmarshal(raw, &cards); err != nil {
			return 0, false
		}
	}

	if len(cards) == 0 || cards[0].CardID <= 0 {
		return 0, false
	}
	return int(cards[0].CardID), true
}

// flexBool accepts 1/0, "1"/"0", "true"/"false" and JSON booleans.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(s) {
	case "1", "true":
		*b = true
	default:
		*b = false
	}
	return nil
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (i *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*i = flexInt(n)
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	v := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if v == "null" {
		v = ""
	}
	*s = flexString(v)
	return nil
}
