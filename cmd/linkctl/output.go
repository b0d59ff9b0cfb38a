package main

import (
	"fmt"
	"io"
	"time"

	"github.com/alexjbarnes/link-connect/connections"
	"github.com/alexjbarnes/link-connect/internal/models"
	"github.com/alexjbarnes/link-connect/link"
	"gopkg.in/yaml.v3"
)

// writeYAML prints v as a YAML document.
func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	return enc.Close()
}

type accountView struct {
	Email  string `yaml:"email"`
	State  string `yaml:"state"`
	Phone  string `yaml:"phone,omitempty"`
	Lookup string `yaml:"lookup,omitempty"`
}

func newAccountView(acct *link.Account) accountView {
	v := accountView{Email: acct.Email, State: acct.State().String()}
	if s := acct.Session(); s != nil {
		v.Phone = s.RedactedFormattedPhone
	}

	return v
}

type paymentDetailsView struct {
	ID        string `yaml:"id"`
	Type      string `yaml:"type"`
	Default   bool   `yaml:"default,omitempty"`
	Brand     string `yaml:"brand,omitempty"`
	Bank      string `yaml:"bank,omitempty"`
	Last4     string `yaml:"last4,omitempty"`
	ExpiresOn string `yaml:"expires,omitempty"`
}

func newPaymentDetailsView(pd link.PaymentDetails) paymentDetailsView {
	v := paymentDetailsView{ID: pd.ID, Type: string(pd.Type), Default: pd.IsDefault}

	switch {
	case pd.Card != nil:
		v.Brand = pd.Card.Brand
		v.Last4 = pd.Card.Last4
		v.ExpiresOn = fmt.Sprintf("%02d/%d", pd.Card.ExpMonth, pd.Card.ExpYear)
	case pd.BankAccount != nil:
		v.Bank = pd.BankAccount.BankName
		v.Last4 = pd.BankAccount.Last4
	default:
		v.Type = pd.RawType
	}

	return v
}

type linkedSessionView struct {
	ID          string              `yaml:"id"`
	Institution string              `yaml:"institution,omitempty"`
	CompletedAt string              `yaml:"completed_at"`
	Accounts    []linkedAccountView `yaml:"accounts,omitempty"`
}

type linkedAccountView struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name,omitempty"`
	Last4 string `yaml:"last4,omitempty"`
}

func newLinkedSessionView(ls models.LinkedSession) linkedSessionView {
	v := linkedSessionView{
		ID:          ls.ID,
		Institution: ls.Institution,
		CompletedAt: ls.CompletedAt.UTC().Format(time.RFC3339),
	}

	for _, a := range ls.Accounts {
		v.Accounts = append(v.Accounts, linkedAccountView{ID: a.ID, Name: a.InstitutionName, Last4: a.Last4})
	}

	return v
}

// linkedSessionRecord converts a completed session for persistence.
func linkedSessionRecord(done *connections.CompletedSession, institution connections.Institution) models.LinkedSession {
	ls := models.LinkedSession{ID: done.ID, Institution: institution.Name}

	for _, a := range done.Accounts.Data {
		name := a.InstitutionName
		if name == "" {
			name = institution.Name
		}

		ls.Accounts = append(ls.Accounts, models.LinkedAccount{ID: a.ID, InstitutionName: name, Last4: a.Last4})
	}

	return ls
}
