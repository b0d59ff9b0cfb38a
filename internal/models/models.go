// Package models defines types persisted by internal packages.
package models

import "time"

// CookieRecord is one stored cookie. Exactly one of Value and Sealed is
// set; Sealed holds [nonce][ciphertext] when a passphrase is configured.
type CookieRecord struct {
	Value     string    `json:"value,omitempty"`
	Sealed    []byte    `json:"sealed,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LinkedAccount is an account attached by a completed linking session.
type LinkedAccount struct {
	ID              string `json:"id"`
	InstitutionName string `json:"institution_name"`
	Last4           string `json:"last4"`
}

// LinkedSession records a completed Financial Connections session.
type LinkedSession struct {
	ID          string          `json:"id"`
	Institution string          `json:"institution,omitempty"`
	Accounts    []LinkedAccount `json:"accounts"`
	CompletedAt time.Time       `json:"completed_at"`
}
