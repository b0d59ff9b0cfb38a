package link

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerificationSessions_SMSVerifiedAfterRoundTrip(t *testing.T) {
	in := VerificationSessions{
		{Type: VerificationEmail, State: VerificationStarted},
		{Type: VerificationSMS, State: VerificationVerified},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out VerificationSessions
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, out.HasVerifiedSMSSession())

	out = out[:1]
	assert.False(t, out.HasVerifiedSMSSession())
}

func TestVerificationSessions_UnknownValuesDecodeAsUnparsable(t *testing.T) {
	var out VerificationSessions
	err := json.Unmarshal([]byte(`[{"type":"passkey","state":"pending_review"},{"type":"SMS","state":"VERIFIED"}]`), &out)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, VerificationUnparsable, out[0].Type)
	assert.Equal(t, VerificationStateUnparsable, out[0].State)
	assert.Equal(t, VerificationSMS, out[1].Type)
	assert.Equal(t, VerificationVerified, out[1].State)
}

func TestVerificationSessions_NonStringValues(t *testing.T) {
	var out VerificationSessions
	require.NoError(t, json.Unmarshal([]byte(`[{"type":7,"state":null}]`), &out))
	assert.Equal(t, VerificationUnparsable, out[0].Type)
}

func TestIsVerifiedForSignup_RequiresStartedSignupSession(t *testing.T) {
	tests := []struct {
		name string
		in   VerificationSessions
		want bool
	}{
		{"started signup", VerificationSessions{{Type: VerificationSignup, State: VerificationStarted}}, true},
		{"verified signup", VerificationSessions{{Type: VerificationSignup, State: VerificationVerified}}, false},
		{"started sms", VerificationSessions{{Type: VerificationSMS, State: VerificationStarted}}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.IsVerifiedForSignup())
		})
	}
}

func TestHasStartedSMSVerification(t *testing.T) {
	s := &ConsumerSession{VerificationSessions: VerificationSessions{{Type: VerificationSMS, State: VerificationStarted}}}
	assert.True(t, s.HasStartedSMSVerification())
	assert.False(t, s.HasVerifiedSMSSession())
}

func TestPaymentDetails_DecodesCard(t *testing.T) {
	var pd PaymentDetails
	err := json.Unmarshal([]byte(`{"id":"csmrpd_1","type":"CARD","is_default":true,
		"card_details":{"brand":"visa","last4":"4242","exp_month":12,"exp_year":2030},
		"billing_address":{"postal_code":"94107","country_code":"US"}}`), &pd)
	require.NoError(t, err)

	assert.Equal(t, PaymentDetailsCard, pd.Type)
	assert.True(t, pd.IsDefault)
	require.NotNil(t, pd.Card)
	assert.Equal(t, "4242", pd.Card.Last4)
	assert.Nil(t, pd.BankAccount)
	require.NotNil(t, pd.BillingAddress)
	assert.Equal(t, "94107", pd.BillingAddress.PostalCode)
}

func TestPaymentDetails_DecodesBankAccount(t *testing.T) {
	var pd PaymentDetails
	err := json.Unmarshal([]byte(`{"id":"csmrpd_2","type":"bank_account",
		"bank_account_details":{"bank_name":"STRIPE TEST BANK","last4":"6789"}}`), &pd)
	require.NoError(t, err)

	assert.Equal(t, PaymentDetailsBankAccount, pd.Type)
	require.NotNil(t, pd.BankAccount)
	assert.Equal(t, "6789", pd.BankAccount.Last4)
	assert.Nil(t, pd.Card)
}

func TestPaymentDetails_UnknownTypeIsUnparsable(t *testing.T) {
	var list []PaymentDetails
	err := json.Unmarshal([]byte(`[
		{"id":"a","type":"crypto_wallet","crypto_details":{"chain":"x"}},
		{"id":"b","type":"card","card_details":{"last4":"1111"}}
	]`), &list)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, PaymentDetailsUnparsable, list[0].Type)
	assert.Equal(t, "crypto_wallet", list[0].RawType)
	assert.Nil(t, list[0].Card)
	assert.Nil(t, list[0].BankAccount)
	assert.Equal(t, PaymentDetailsCard, list[1].Type)
}

func TestPaymentDetails_MissingVariantPayloadIsUnparsable(t *testing.T) {
	var pd PaymentDetails
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","type":"card"}`), &pd))
	assert.Equal(t, PaymentDetailsUnparsable, pd.Type)
	assert.Nil(t, pd.Card)
}

func TestPaymentDetails_InvalidJSON(t *testing.T) {
	var pd PaymentDetails
	assert.Error(t, pd.UnmarshalJSON([]byte(`{nope`)))
}

func TestPaymentDetails_MarshalKeepsRawType(t *testing.T) {
	pd := PaymentDetails{ID: "a", Type: PaymentDetailsUnparsable, RawType: "crypto_wallet"}
	data, err := json.Marshal(pd)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"crypto_wallet"`)
}

func TestSupportedPaymentDetailTypes_UnknownEntries(t *testing.T) {
	var s ConsumerSession
	require.NoError(t, json.Unmarshal([]byte(`{"support_payment_details_types":["CARD","BANK_ACCOUNT","LINK_CREDIT"]}`), &s))
	assert.Equal(t, []PaymentDetailsType{PaymentDetailsCard, PaymentDetailsBankAccount, PaymentDetailsUnparsable}, s.SupportedPaymentDetailTypes)
}
