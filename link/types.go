package link

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// VerificationType is the kind of a consumer verification session.
type VerificationType string

const (
	VerificationSignup     VerificationType = "signup"
	VerificationEmail      VerificationType = "email"
	VerificationSMS        VerificationType = "sms"
	VerificationUnparsable VerificationType = "unparsable"
)

// UnmarshalJSON maps unknown values to VerificationUnparsable.
func (t *VerificationType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*t = VerificationUnparsable
		return nil
	}

	switch v := VerificationType(strings.ToLower(s)); v {
	case VerificationSignup, VerificationEmail, VerificationSMS:
		*t = v
	default:
		*t = VerificationUnparsable
	}

	return nil
}

// VerificationState is the state of a consumer verification session.
type VerificationState string

const (
	VerificationStarted         VerificationState = "started"
	VerificationFailed          VerificationState = "failed"
	VerificationVerified        VerificationState = "verified"
	VerificationCanceled        VerificationState = "canceled"
	VerificationExpired         VerificationState = "expired"
	VerificationStateUnparsable VerificationState = "unparsable"
)

// UnmarshalJSON maps unknown values to VerificationStateUnparsable.
func (s *VerificationState) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		*s = VerificationStateUnparsable
		return nil
	}

	switch v := VerificationState(strings.ToLower(raw)); v {
	case VerificationStarted, VerificationFailed, VerificationVerified, VerificationCanceled, VerificationExpired:
		*s = v
	default:
		*s = VerificationStateUnparsable
	}

	return nil
}

// VerificationSession is one verification attempt attached to a
// consumer session.
type VerificationSession struct {
	Type  VerificationType  `json:"type"`
	State VerificationState `json:"state"`
}

// VerificationSessions is the list carried by a ConsumerSession.
type VerificationSessions []VerificationSession

// HasVerifiedSMSSession reports whether an SMS session reached verified.
func (v VerificationSessions) HasVerifiedSMSSession() bool {
	return v.contains(VerificationSMS, VerificationVerified)
}

// HasStartedSMSVerification reports whether an SMS session is in flight.
func (v VerificationSessions) HasStartedSMSVerification() bool {
	return v.contains(VerificationSMS, VerificationStarted)
}

// IsVerifiedForSignup reports whether a signup session exists in the
// started state. A started signup session is what the server treats as
// sufficient, so this intentionally does not check for verified.
func (v VerificationSessions) IsVerifiedForSignup() bool {
	return v.contains(VerificationSignup, VerificationStarted)
}

func (v VerificationSessions) contains(t VerificationType, s VerificationState) bool {
	for _, vs := range v {
		if vs.Type == t && vs.State == s {
			return true
		}
	}

	return false
}

// ConsumerSession is a signed-in Link identity.
type ConsumerSession struct {
	ClientSecret                string               `json:"client_secret"`
	EmailAddress                string               `json:"email_address"`
	RedactedFormattedPhone      string               `json:"redacted_formatted_phone_number"`
	UnredactedPhoneNumber       string               `json:"unredacted_phone_number,omitempty"`
	VerificationSessions        VerificationSessions `json:"verification_sessions"`
	SupportedPaymentDetailTypes []PaymentDetailsType `json:"support_payment_details_types,omitempty"`
}

// HasVerifiedSMSSession reports whether the session completed SMS
// verification.
func (s *ConsumerSession) HasVerifiedSMSSession() bool {
	return s.VerificationSessions.HasVerifiedSMSSession()
}

// HasStartedSMSVerification reports whether an SMS code was sent.
func (s *ConsumerSession) HasStartedSMSVerification() bool {
	return s.VerificationSessions.HasStartedSMSVerification()
}

// IsVerifiedForSignup mirrors VerificationSessions.IsVerifiedForSignup.
func (s *ConsumerSession) IsVerifiedForSignup() bool {
	return s.VerificationSessions.IsVerifiedForSignup()
}

// SessionWithPublishableKey is returned by sign-up: the new session plus
// the consumer-scoped publishable key for subsequent calls.
type SessionWithPublishableKey struct {
	ConsumerSession ConsumerSession `json:"consumer_session"`
	PublishableKey  string          `json:"publishable_key"`
}

// PaymentDetailsType discriminates PaymentDetails.
type PaymentDetailsType string

const (
	PaymentDetailsCard        PaymentDetailsType = "card"
	PaymentDetailsBankAccount PaymentDetailsType = "bank_account"
	PaymentDetailsUnparsable  PaymentDetailsType = "unparsable"
)

// UnmarshalJSON accepts either case and maps unknown values to
// PaymentDetailsUnparsable.
func (t *PaymentDetailsType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*t = PaymentDetailsUnparsable
		return nil
	}

	*t = parsePaymentDetailsType(s)

	return nil
}

func parsePaymentDetailsType(s string) PaymentDetailsType {
	switch v := PaymentDetailsType(strings.ToLower(s)); v {
	case PaymentDetailsCard, PaymentDetailsBankAccount:
		return v
	default:
		return PaymentDetailsUnparsable
	}
}

// Address is a billing address.
type Address struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line_1,omitempty"`
	Line2      string `json:"line_2,omitempty"`
	City       string `json:"locality,omitempty"`
	State      string `json:"administrative_area,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country_code,omitempty"`
}

// CardDetails is the redacted card variant.
type CardDetails struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

// BankAccountDetails is the redacted bank account variant.
type BankAccountDetails struct {
	BankName     string `json:"bank_name"`
	BankIconCode string `json:"bank_icon_code"`
	Last4        string `json:"last4"`
}

// PaymentDetails is a saved payment instrument. Exactly one of Card,
// BankAccount is set for known types; for PaymentDetailsUnparsable both
// are nil and RawType holds what the server sent.
type PaymentDetails struct {
	ID                  string
	Type                PaymentDetailsType
	RawType             string
	IsDefault           bool
	BillingAddress      *Address
	BillingEmailAddress string

	Card        *CardDetails
	BankAccount *BankAccountDetails
}

type paymentDetailsWire struct {
	ID                  string              `json:"id"`
	Type                string              `json:"type"`
	IsDefault           bool                `json:"is_default"`
	BillingAddress      *Address            `json:"billing_address,omitempty"`
	BillingEmailAddress string              `json:"billing_email_address,omitempty"`
	Card                *CardDetails        `json:"card_details,omitempty"`
	BankAccount         *BankAccountDetails `json:"bank_account_details,omitempty"`
}

// UnmarshalJSON reads the type discriminator first, then decodes only the
// matching variant. A variant whose payload fails to decode degrades to
// PaymentDetailsUnparsable instead of failing the enclosing response.
func (p *PaymentDetails) UnmarshalJSON(b []byte) error {
	if !gjson.ValidBytes(b) {
		return fmt.Errorf("payment details: invalid JSON")
	}

	doc := gjson.ParseBytes(b)
	raw := doc.Get("type").String()

	*p = PaymentDetails{
		ID:                  doc.Get("id").String(),
		Type:                parsePaymentDetailsType(raw),
		RawType:             raw,
		IsDefault:           doc.Get("is_default").Bool(),
		BillingEmailAddress: doc.Get("billing_email_address").String(),
	}

	if addr := doc.Get("billing_address"); addr.IsObject() {
		var a Address
		if json.Unmarshal([]byte(addr.Raw), &a) == nil {
			p.BillingAddress = &a
		}
	}

	switch p.Type {
	case PaymentDetailsCard:
		var card CardDetails
		if err := json.Unmarshal([]byte(doc.Get("card_details").Raw), &card); err != nil {
			p.Type = PaymentDetailsUnparsable
			return nil
		}
		p.Card = &card
	case PaymentDetailsBankAccount:
		var bank BankAccountDetails
		if err := json.Unmarshal([]byte(doc.Get("bank_account_details").Raw), &bank); err != nil {
			p.Type = PaymentDetailsUnparsable
			return nil
		}
		p.BankAccount = &bank
	default:
		p.Type = PaymentDetailsUnparsable
	}

	return nil
}

// MarshalJSON writes the wire shape, keeping RawType for unparsable
// entries so a re-encode does not lose information.
func (p PaymentDetails) MarshalJSON() ([]byte, error) {
	typ := string(p.Type)
	if p.Type == PaymentDetailsUnparsable && p.RawType != "" {
		typ = p.RawType
	}

	return json.Marshal(paymentDetailsWire{
		ID:                  p.ID,
		Type:                typ,
		IsDefault:           p.IsDefault,
		BillingAddress:      p.BillingAddress,
		BillingEmailAddress: p.BillingEmailAddress,
		Card:                p.Card,
		BankAccount:         p.BankAccount,
	})
}
