package notification

import (
	"encoding/json"
)

// Kind tags the variant of a Notification.
type Kind int

const (
	Simple Kind = iota
	WithURL
	WithActions
)

// Action is a button shown on a notification. URL is opened when it is
// clicked.
type Action struct {
	Name  string
	Title string
	URL   string
}

// Notification is a push message. URL is set for WithURL; Actions for
// WithActions. Icon falls back to the pool default when empty.
type Notification struct {
	Kind    Kind
	Title   string
	Body    string
	Icon    string
	URL     string
	Actions []Action
}

// NewSimple creates a notification without a click target.
func NewSimple(title, body string) Notification {
	return Notification{Kind: Simple, Title: title, Body: body}
}

// NewWithURL creates a notification that opens url when clicked.
func NewWithURL(title, body, url string) Notification {
	return Notification{Kind: WithURL, Title: title, Body: body, URL: url}
}

// NewWithActions creates a notification with buttons.
func NewWithActions(title, body, url string, actions ...Action) Notification {
	return Notification{Kind: WithActions, Title: title, Body: body, URL: url, Actions: actions}
}

type payloadAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

type payload struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Icon        string            `json:"icon,omitempty"`
	URL         string            `json:"url,omitempty"`
	Actions     []payloadAction   `json:"actions,omitempty"`
	ActionsURLs map[string]string `json:"actionsURLs,omitempty"`
}

// Payload renders the JSON document consumed by the service worker.
func (n Notification) Payload() ([]byte, error) {
	p := payload{Title: n.Title, Body: n.Body, Icon: n.Icon}
	if n.Kind != Simple {
		p.URL = n.URL
	}
	if n.Kind == WithActions && len(n.Actions) > 0 {
		p.ActionsURLs = make(map[string]string, len(n.Actions))
		for _, a := range n.Actions {
			p.Actions = append(p.Actions, payloadAction{Action: a.Name, Title: a.Title})
			p.ActionsURLs[a.Name] = a.URL
		}
	}
	return json.Marshal(p)
}

// Recipient selects who receives a notification: one user or everyone.
type Recipient struct {
	UserID *int64
}

// Everyone addresses every subscription.
var Everyone = Recipient{}

// To addresses the subscriptions of a single user.
func To(userID int64) Recipient {
	return Recipient{UserID: &userID}
}

// Notifier delivers notifications without blocking the caller. Delivery is
// best effort; failures are logged by the implementation.
type Notifier interface {
	Notify(to Recipient, n Notification)
}
