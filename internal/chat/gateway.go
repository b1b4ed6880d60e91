// Package chat is the boundary to the conversational front-end. The
// front-end itself is an external collaborator: it delivers ordered
// text and file events for a chat session, and we hand replies back
// through a Gateway.
package chat

import (
	"context"
	"io"
)

// Gateway delivers replies to a chat session.
type Gateway interface {
	SendText(ctx context.Context, sessionID int64, text string) error
	SendDocument(ctx context.Context, sessionID int64, fileName string, data []byte) error
}

// Event is one inbound unit from the front-end: a command or free text,
// optionally carrying an uploaded file.
type Event struct {
	SessionID   int64  `json:"session_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
	File        *FileRef
}

// FileRef describes an attached upload. Open fetches the blob from the
// front-end on demand so the payload is pulled only after validation.
type FileRef struct {
	Name string
	Size int64
	Open func(ctx context.Context) (io.ReadCloser, error)
}
