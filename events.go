package goSession

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goSession/internal/events"
)

// Event types emitted by the Controller.
const (
	EventLogin                = "login"
	EventRegister             = "register"
	EventLogout               = "logout"
	EventAuthExpired          = "auth_expired"
	EventOrganizationSelected = "organization_selected"
	EventProjectSelected      = "project_selected"
	EventSessionRestored      = "session_restored"
	EventSessionPurged        = "session_purged"
)

// Event and sink types re-exported from the dispatcher package.
type (
	Event          = events.Event
	EventSink      = events.Sink
	NoOpSink       = events.NoOpSink
	ChannelSink    = events.ChannelSink
	JSONWriterSink = events.JSONWriterSink
	LogSink        = events.LogSink
)

// NewChannelSink returns a sink that exposes events on a channel of the given capacity.
func NewChannelSink(buffer int) *ChannelSink { return events.NewChannelSink(buffer) }

// NewJSONWriterSink returns a sink that writes one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return events.NewJSONWriterSink(w) }

// NewLogSink returns a sink that logs each event through log.
func NewLogSink(log zerolog.Logger) *LogSink { return events.NewLogSink(log) }

// EventsDropped reports events discarded under dispatcher backpressure or
// left unflushed when Close timed out.
func (c *Controller) EventsDropped() uint64 {
	return c.events.Dropped()
}

func (c *Controller) emit(ctx context.Context, typ string, snap Snapshot, err error, meta map[string]string) {
	if c.events == nil {
		return
	}
	e := Event{
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Success:   err == nil,
		Metadata:  meta,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if snap.User != nil {
		e.UserID = snap.User.ID
	}
	if snap.Organization != nil {
		e.OrganizationID = snap.Organization.ID
	}
	if snap.Project != nil {
		e.ProjectID = snap.Project.ID
	}
	c.events.Emit(ctx, e)
}
