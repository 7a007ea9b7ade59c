// Package tracker maintains the live renderable summary of each running job
// and pushes rate-limited updates to a display collaborator.
package tracker

import "context"

// Control is one interactive element attached to a display payload. Callback
// is an opaque token of the form "action:job_id" echoed back by the chat layer.
type Control struct {
	Label    string `json:"label"`
	Callback string `json:"callback"`
}

// Payload is a renderable display update.
type Payload struct {
	Text     string    `json:"text"`
	Controls []Control `json:"controls,omitempty"`
}

// Display is the chat-display collaborator. Implementations wrap a push/edit
// message API; the tracker never assumes more than create/update/finalize.
type Display interface {
	Create(ctx context.Context, target string, p Payload) (handle string, err error)
	Update(ctx context.Context, handle string, p Payload) error
	Finalize(ctx context.Context, handle string, p Payload) error
}
