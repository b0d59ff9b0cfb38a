package connections

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// NextPane names the wizard pane the server wants shown next.
type NextPane string

const (
	PaneConsent                          NextPane = "consent"
	PaneInstitutionPicker                NextPane = "institution_picker"
	PanePartnerAuth                      NextPane = "partner_auth"
	PaneAccountPicker                    NextPane = "account_picker"
	PaneAttachLinkedPaymentAccount       NextPane = "attach_linked_payment_account"
	PaneAuthOptions                      NextPane = "auth_options"
	PaneLinkConsent                      NextPane = "link_consent"
	PaneLinkLogin                        NextPane = "link_login"
	PaneManualEntry                      NextPane = "manual_entry"
	PaneManualEntrySuccess               NextPane = "manual_entry_success"
	PaneNetworkingLinkLoginWarmup        NextPane = "networking_link_login_warmup"
	PaneNetworkingLinkSignup             NextPane = "networking_link_signup_pane"
	PaneNetworkingLinkVerification       NextPane = "networking_link_verification"
	PaneNetworkingSaveToLinkVerification NextPane = "networking_save_to_link_verification"
	PaneLinkAccountPicker                NextPane = "link_account_picker"
	PaneLinkStepUpVerification           NextPane = "link_step_up_verification"
	PaneBankAuthRepair                   NextPane = "bank_auth_repair"
	PaneReset                            NextPane = "reset"
	PaneSuccess                          NextPane = "success"
	PaneUnexpectedError                  NextPane = "unexpected_error"
	PaneUnparsable                       NextPane = "unparsable"
)

var knownPanes = map[NextPane]struct{}{
	PaneConsent: {}, PaneInstitutionPicker: {}, PanePartnerAuth: {}, PaneAccountPicker: {},
	PaneAttachLinkedPaymentAccount: {}, PaneAuthOptions: {}, PaneLinkConsent: {}, PaneLinkLogin: {},
	PaneManualEntry: {}, PaneManualEntrySuccess: {}, PaneNetworkingLinkLoginWarmup: {},
	PaneNetworkingLinkSignup: {}, PaneNetworkingLinkVerification: {},
	PaneNetworkingSaveToLinkVerification: {}, PaneLinkAccountPicker: {}, PaneLinkStepUpVerification: {},
	PaneBankAuthRepair: {}, PaneReset: {}, PaneSuccess: {}, PaneUnexpectedError: {},
}

// ParseNextPane maps a wire value to a NextPane, PaneUnparsable when the
// value is unknown.
func ParseNextPane(s string) NextPane {
	p := NextPane(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownPanes[p]; ok {
		return p
	}

	return PaneUnparsable
}

// UnmarshalJSON never fails; unknown values become PaneUnparsable.
func (p *NextPane) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*p = PaneUnparsable
		return nil
	}

	if s == "" {
		*p = ""
		return nil
	}

	*p = ParseNextPane(s)

	return nil
}

// AuthSessionFlow is the partner integration used for an auth session.
type AuthSessionFlow string

const (
	FlowDirect                 AuthSessionFlow = "direct"
	FlowDirectWebview          AuthSessionFlow = "direct_webview"
	FlowFinicityConnectV2OAuth AuthSessionFlow = "finicity_connect_v2_oauth"
	FlowFinicityConnectV2Lite  AuthSessionFlow = "finicity_connect_v2_lite"
	FlowMXConnect              AuthSessionFlow = "mx_connect"
	FlowMXOAuth                AuthSessionFlow = "mx_oauth"
	FlowTestmode               AuthSessionFlow = "testmode"
	FlowTestmodeOAuth          AuthSessionFlow = "testmode_oauth"
	FlowTruelayerOAuth         AuthSessionFlow = "truelayer_oauth"
	FlowWellsFargo             AuthSessionFlow = "wells_fargo"
	FlowUnparsable             AuthSessionFlow = "unparsable"
)

// UnmarshalJSON never fails; unknown flows become FlowUnparsable.
func (f *AuthSessionFlow) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*f = FlowUnparsable
		return nil
	}

	switch v := AuthSessionFlow(strings.ToLower(s)); v {
	case FlowDirect, FlowDirectWebview, FlowFinicityConnectV2OAuth, FlowFinicityConnectV2Lite,
		FlowMXConnect, FlowMXOAuth, FlowTestmode, FlowTestmodeOAuth, FlowTruelayerOAuth, FlowWellsFargo:
		*f = v
	default:
		*f = FlowUnparsable
	}

	return nil
}

// AuthSessionStatus is the server-side state of an auth session.
type AuthSessionStatus string

const (
	StatusPending    AuthSessionStatus = "pending"
	StatusSuccess    AuthSessionStatus = "success"
	StatusFailed     AuthSessionStatus = "failed"
	StatusCanceled   AuthSessionStatus = "cancelled"
	StatusUnparsable AuthSessionStatus = "unparsable"
)

// UnmarshalJSON accepts both spellings of canceled and maps unknown
// values to StatusUnparsable.
func (s *AuthSessionStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		*s = StatusUnparsable
		return nil
	}

	switch strings.ToLower(raw) {
	case "":
		*s = ""
	case "pending":
		*s = StatusPending
	case "success":
		*s = StatusSuccess
	case "failed":
		*s = StatusFailed
	case "cancelled", "canceled":
		*s = StatusCanceled
	default:
		*s = StatusUnparsable
	}

	return nil
}

// BodyEntryType discriminates prepane body entries.
type BodyEntryType string

const (
	BodyEntryText       BodyEntryType = "text"
	BodyEntryImage      BodyEntryType = "image"
	BodyEntryUnparsable BodyEntryType = "unparsable"
)

// BodyEntry is one block of prepane copy: text, an image, or something
// this client does not know how to render.
type BodyEntry struct {
	Type     BodyEntryType
	Text     string
	ImageURL string
}

// UnmarshalJSON reads "type" first, then the matching content shape.
func (e *BodyEntry) UnmarshalJSON(b []byte) error {
	doc := gjson.ParseBytes(b)

	switch BodyEntryType(doc.Get("type").String()) {
	case BodyEntryText:
		*e = BodyEntry{Type: BodyEntryText, Text: doc.Get("content").String()}
	case BodyEntryImage:
		img := doc.Get("content.default")
		if !img.Exists() {
			*e = BodyEntry{Type: BodyEntryUnparsable}
			return nil
		}
		*e = BodyEntry{Type: BodyEntryImage, ImageURL: img.String()}
	default:
		*e = BodyEntry{Type: BodyEntryUnparsable}
	}

	return nil
}

// Prepane is the institution information shown before an OAuth redirect.
type Prepane struct {
	Title           string
	Body            []BodyEntry
	CTA             string
	InstitutionIcon string
	PartnerNotice   string
}

type prepaneWire struct {
	Title string `json:"title"`
	Body  struct {
		Entries []BodyEntry `json:"entries"`
	} `json:"body"`
	CTA struct {
		Text string `json:"text"`
	} `json:"cta"`
	InstitutionIcon struct {
		Default string `json:"default"`
	} `json:"institution_icon"`
	PartnerNotice struct {
		Text string `json:"text"`
	} `json:"partner_notice"`
}

type authSessionDisplay struct {
	Text struct {
		OAuthPrepane *prepaneWire `json:"oauth_prepane"`
	} `json:"text"`
}

// AuthSession is one attempt to authenticate with an institution.
type AuthSession struct {
	ID                    string            `json:"id"`
	Flow                  AuthSessionFlow   `json:"flow"`
	URL                   string            `json:"url"`
	IsOAuth               bool              `json:"is_oauth"`
	ShowPartnerDisclosure bool              `json:"show_partner_disclosure"`
	SkipAccountSelection  bool              `json:"skip_account_selection"`
	Status                AuthSessionStatus `json:"status"`
	NextPane              NextPane          `json:"next_pane"`

	Display *authSessionDisplay `json:"display,omitempty"`
}

// Prepane returns the OAuth prepane copy, or nil when the server sent
// none.
func (s *AuthSession) Prepane() *Prepane {
	if s.Display == nil || s.Display.Text.OAuthPrepane == nil {
		return nil
	}

	w := s.Display.Text.OAuthPrepane

	return &Prepane{
		Title:           w.Title,
		Body:            w.Body.Entries,
		CTA:             w.CTA.Text,
		InstitutionIcon: w.InstitutionIcon.Default,
		PartnerNotice:   w.PartnerNotice.Text,
	}
}

// OAuthResults carries the public token produced by a completed OAuth
// redirect.
type OAuthResults struct {
	PublicToken string `json:"public_token"`
}

// Institution is a financial institution the user can link.
type Institution struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	Featured bool   `json:"featured"`
}

// PartnerAccount is an account discovered at the institution after
// authentication.
type PartnerAccount struct {
	ID                        string `json:"id"`
	Name                      string `json:"name"`
	DisplayableAccountNumbers string `json:"displayable_account_numbers,omitempty"`
	BalanceAmount             *int64 `json:"balance_amount,omitempty"`
	Currency                  string `json:"currency,omitempty"`
	AllowSelection            *bool  `json:"allow_selection,omitempty"`
}

// Selectable reports whether the user may pick the account. Absent means
// allowed.
func (a PartnerAccount) Selectable() bool {
	return a.AllowSelection == nil || *a.AllowSelection
}

// AccountsResult is returned by account polling and selection.
type AccountsResult struct {
	Accounts []PartnerAccount `json:"data"`
	NextPane NextPane         `json:"next_pane"`
}

// LinkedAccount is an account attached to the completed session.
type LinkedAccount struct {
	ID              string `json:"id"`
	InstitutionName string `json:"institution_name"`
	Last4           string `json:"last4"`
	DisplayName     string `json:"display_name,omitempty"`
}

// CompletedSession is the result of completing the linking session.
type CompletedSession struct {
	ID       string `json:"id"`
	Accounts struct {
		Data []LinkedAccount `json:"data"`
	} `json:"accounts"`
}

// FeatureDisableAuthSessionRetrieval turns off the defensive retrieve
// after an auth session reports success.
const FeatureDisableAuthSessionRetrieval = "disable_auth_session_retrieval"

// Manifest is the server-owned wizard state.
type Manifest struct {
	ID                          string          `json:"id"`
	NextPane                    NextPane        `json:"next_pane"`
	AllowManualEntry            bool            `json:"allow_manual_entry"`
	SkipAccountSelection        bool            `json:"skip_account_selection"`
	DisableLinkMoreAccounts     bool            `json:"disable_link_more_accounts"`
	SingleAccount               bool            `json:"single_account"`
	ConsentRequired             bool            `json:"consent_required"`
	InstantVerificationDisabled bool            `json:"instant_verification_disabled"`
	InstitutionSearchDisabled   bool            `json:"institution_search_disabled"`
	Livemode                    bool            `json:"livemode"`
	BusinessName                string          `json:"business_name,omitempty"`
	ActiveInstitution           *Institution    `json:"active_institution,omitempty"`
	ActiveAuthSession           *AuthSession    `json:"active_auth_session,omitempty"`
	Features                    map[string]bool `json:"features,omitempty"`
}

// Feature reports a server feature flag, false when absent.
func (m *Manifest) Feature(name string) bool {
	if m == nil {
		return false
	}

	return m.Features[name]
}

// DisableAuthSessionRetrieval reports whether the defensive retrieve is
// switched off.
func (m *Manifest) DisableAuthSessionRetrieval() bool {
	return m.Feature(FeatureDisableAuthSessionRetrieval)
}
