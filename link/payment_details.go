package link

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/alexjbarnes/link-connect/api"
)

const (
	resourcePaymentDetails      = "consumers/payment_details"
	resourcePaymentDetailsList  = "consumers/payment_details/list"
	resourcePaymentDetailsShare = "consumers/payment_details/share"
)

// CardParams is the raw card entered by the consumer.
type CardParams struct {
	Number   string `json:"number"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

type bankAccountParams struct {
	Account string `json:"account"`
}

// createPaymentDetailsRequest always sends Active=false. Activation
// follows a successful intent confirmation, so a failed confirmation
// leaves no active orphan behind.
type createPaymentDetailsRequest struct {
	Type                string             `json:"type"`
	Card                *CardParams        `json:"card,omitempty"`
	BankAccount         *bankAccountParams `json:"bank_account,omitempty"`
	BillingAddress      *Address           `json:"billing_address,omitempty"`
	BillingEmailAddress string             `json:"billing_email_address,omitempty"`
	IsDefault           bool               `json:"is_default"`
	Active              bool               `json:"active"`
}

type paymentDetailsResponse struct {
	PaymentDetails PaymentDetails `json:"redacted_payment_details"`
}

type paymentDetailsListResponse struct {
	PaymentDetails []PaymentDetails `json:"redacted_payment_details"`
}

// CreateCardPaymentDetails saves a card for the consumer in the inactive
// state.
func (c *Client) CreateCardPaymentDetails(ctx context.Context, acct *Account, card CardParams, billing *Address, isDefault bool) (*PaymentDetails, error) {
	if card.Number == "" {
		return nil, &api.IntegrationError{Msg: "card number is required"}
	}

	return c.createPaymentDetails(ctx, acct, createPaymentDetailsRequest{
		Type:                string(PaymentDetailsCard),
		Card:                &card,
		BillingAddress:      billing,
		BillingEmailAddress: acct.emailOrEmpty(),
		IsDefault:           isDefault,
	})
}

// CreateBankPaymentDetails saves a linked Financial Connections account
// for the consumer in the inactive state.
func (c *Client) CreateBankPaymentDetails(ctx context.Context, acct *Account, linkedAccountID string, isDefault bool) (*PaymentDetails, error) {
	if linkedAccountID == "" {
		return nil, &api.IntegrationError{Msg: "linked account id is required"}
	}

	return c.createPaymentDetails(ctx, acct, createPaymentDetailsRequest{
		Type:                string(PaymentDetailsBankAccount),
		BankAccount:         &bankAccountParams{Account: linkedAccountID},
		BillingEmailAddress: acct.emailOrEmpty(),
		IsDefault:           isDefault,
	})
}

func (c *Client) createPaymentDetails(ctx context.Context, acct *Account, req createPaymentDetailsRequest) (*PaymentDetails, error) {
	creds, err := acct.credentials()
	if err != nil {
		return nil, err
	}

	req.Active = false

	var resp paymentDetailsResponse

	err = c.api.Do(ctx, api.Request{
		Resource:       resourcePaymentDetails,
		Params:         req,
		Credentials:    creds,
		IdempotencyKey: c.newIdempotencyKey(),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("creating payment details: %w", err)
	}

	return &resp.PaymentDetails, nil
}

type listPaymentDetailsRequest struct {
	Types []PaymentDetailsType `json:"types"`
}

// ListPaymentDetails returns the consumer's saved payment details. When
// types is empty the session's supported types are used, falling back
// to card and bank account. Unknown entries appear as unparsable.
func (c *Client) ListPaymentDetails(ctx context.Context, acct *Account, types ...PaymentDetailsType) ([]PaymentDetails, error) {
	creds, err := acct.credentials()
	if err != nil {
		return nil, err
	}

	if len(types) == 0 {
		for _, t := range acct.Session().SupportedPaymentDetailTypes {
			if t != PaymentDetailsUnparsable {
				types = append(types, t)
			}
		}
	}

	if len(types) == 0 {
		types = []PaymentDetailsType{PaymentDetailsCard, PaymentDetailsBankAccount}
	}

	resp, err := api.Post[paymentDetailsListResponse](ctx, c.api, resourcePaymentDetailsList, listPaymentDetailsRequest{Types: types}, creds)
	if err != nil {
		return nil, fmt.Errorf("listing payment details: %w", err)
	}

	return resp.PaymentDetails, nil
}

// UpdatePaymentDetailsParams lists the mutable fields. Nil fields are left
// unchanged.
type UpdatePaymentDetailsParams struct {
	IsDefault      *bool    `json:"is_default,omitempty"`
	ExpMonth       *int     `json:"exp_month,omitempty"`
	ExpYear        *int     `json:"exp_year,omitempty"`
	BillingAddress *Address `json:"billing_address,omitempty"`
}

// UpdatePaymentDetails changes a saved payment method.
func (c *Client) UpdatePaymentDetails(ctx context.Context, acct *Account, id string, params UpdatePaymentDetailsParams) (*PaymentDetails, error) {
	creds, err := acct.credentials()
	if err != nil {
		return nil, err
	}

	if id == "" {
		return nil, &api.IntegrationError{Msg: "payment details id is required"}
	}

	resp, err := api.Post[paymentDetailsResponse](ctx, c.api, resourcePaymentDetails+"/"+url.PathEscape(id), params, creds)
	if err != nil {
		return nil, fmt.Errorf("updating payment details %s: %w", id, err)
	}

	return &resp.PaymentDetails, nil
}

// DeletePaymentDetails removes a saved payment method.
func (c *Client) DeletePaymentDetails(ctx context.Context, acct *Account, id string) error {
	creds, err := acct.credentials()
	if err != nil {
		return err
	}

	if id == "" {
		return &api.IntegrationError{Msg: "payment details id is required"}
	}

	err = c.api.Do(ctx, api.Request{
		Method:      http.MethodDelete,
		Resource:    resourcePaymentDetails + "/" + url.PathEscape(id),
		Credentials: creds,
	}, nil)
	if err != nil {
		return fmt.Errorf("deleting payment details %s: %w", id, err)
	}

	return nil
}

type sharePaymentDetailsRequest struct {
	ID     string   `json:"id"`
	Expand []string `json:"expand"`
}

type sharePaymentDetailsResponse struct {
	PaymentMethod struct {
		ID string `json:"id"`
	} `json:"payment_method"`
}

// SharePaymentDetails shares a saved payment method with the merchant and
// returns the resulting payment method id. Sharing is tied to one payment
// attempt: callers must not retry it blindly.
func (c *Client) SharePaymentDetails(ctx context.Context, acct *Account, id string) (string, error) {
	creds, err := acct.credentials()
	if err != nil {
		return "", err
	}

	if id == "" {
		return "", &api.IntegrationError{Msg: "payment details id is required"}
	}

	var resp sharePaymentDetailsResponse

	err = c.api.Do(ctx, api.Request{
		Resource:       resourcePaymentDetailsShare,
		Params:         sharePaymentDetailsRequest{ID: id, Expand: []string{"payment_method"}},
		Credentials:    creds,
		IdempotencyKey: c.newIdempotencyKey(),
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("sharing payment details %s: %w", id, err)
	}

	if resp.PaymentMethod.ID == "" {
		return "", &api.DecodingError{Resource: resourcePaymentDetailsShare, Err: fmt.Errorf("missing payment_method.id")}
	}

	return resp.PaymentMethod.ID, nil
}

func (a *Account) emailOrEmpty() string {
	if a == nil {
		return ""
	}

	return a.Email
}
