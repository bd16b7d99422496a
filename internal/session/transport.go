package session

import "context"

// OperatorSummary is the public view of a registered operator as returned by
// the list and get-occupancy requests.
type OperatorSummary struct {
	Username       string `json:"username"`
	DisplayName    string `json:"displayName"`
	EmailAddress   string `json:"emailAddress,omitempty"`
	PhoneNumber    string `json:"phoneNumber,omitempty"`
	TwitterHandle  string `json:"twitterHandle,omitempty"`
	MastodonHandle string `json:"mastodonHandle,omitempty"`
	PrintInPrivate bool   `json:"printInPrivate"`
}

// Label is the name shown to other viewers.
func (o OperatorSummary) Label() string {
	if o.DisplayName != "" {
		return o.DisplayName
	}
	return o.Username
}

// PrivateLabel is shown in place of operators who print in private.
const PrivateLabel = "(private)"

// PublicLabel is Label for everyone except operators who print in private.
func (o OperatorSummary) PublicLabel() string {
	if o.PrintInPrivate {
		return PrivateLabel
	}
	return o.Label()
}

// Registration is the create-operator request payload.
type Registration struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	KeyfobID       string `json:"keyfobId"`
	DisplayName    string `json:"displayName"`
	EmailAddress   string `json:"emailAddress"`
	PhoneNumber    string `json:"phoneNumber"`
	TwitterHandle  string `json:"twitterHandle"`
	MastodonHandle string `json:"mastodonHandle"`
	PrintInPrivate bool   `json:"printInPrivate"`
}

// Transport is the request/response channel to the server.
// CurrentHolder returns nil when nobody holds the machine.
type Transport interface {
	ListOperators(ctx context.Context) ([]OperatorSummary, error)
	CurrentHolder(ctx context.Context) (*OperatorSummary, error)
	NotifyStarted(ctx context.Context, username string) error
	NotifyFailed(ctx context.Context) error
	NotifyFinished(ctx context.Context) error
	NotifyFakeTag(ctx context.Context) error
	RegisterOperator(ctx context.Context, reg Registration) error
}
