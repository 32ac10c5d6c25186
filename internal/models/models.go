// Package models defines the core data structures for the chatbot.
//
// It includes conversation addresses, dialog states, session and durable user
// records, and the inbound/outbound message shapes shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Address identifies a one-to-one conversation peer (a WhatsApp JID string).
type Address string

// String returns the address as a plain string.
func (a Address) String() string { return string(a) }

// hiddenUserSuffix marks a hidden-user (LID) address, whose user part is
// not a phone number.
const hiddenUserSuffix = "@lid"

// Number returns the number shown to operators. A hidden-user address that
// could not be resolved to a phone number is labeled as an LID.
func (a Address) Number() string {
	if strings.HasSuffix(string(a), hiddenUserSuffix) {
		return "LID " + a.User()
	}
	return a.User()
}

// User returns the user part of the address (the phone number for phone JIDs).
func (a Address) User() string {
	s := string(a)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	// Strip a device suffix such as "5511999999999:12".
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return s
}

// DialogState is the router's position in the menu state machine.
type DialogState string

const (
	// StateMain is the initial state: main menu and topic selection.
	StateMain DialogState = "MAIN"
	// StateTopicFollowup is the drill-down sub-menu of a topic.
	StateTopicFollowup DialogState = "TOPIC_FOLLOWUP"
	// StateAwaitingHandoffReason waits for a one-line reason before handing off.
	StateAwaitingHandoffReason DialogState = "AWAITING_HANDOFF_REASON"
	// StateHumanSilenced suppresses automatic replies while a human handles the conversation.
	StateHumanSilenced DialogState = "HUMAN_SILENCED"
)

// IsValidDialogState checks if the given state is one of the known dialog states.
func IsValidDialogState(s DialogState) bool {
	switch s {
	case StateMain, StateTopicFollowup, StateAwaitingHandoffReason, StateHumanSilenced:
		return true
	default:
		return false
	}
}

// MessageKind classifies an inbound event.
type MessageKind string

const (
	KindText      MessageKind = "text"
	KindMedia     MessageKind = "media"
	KindSelection MessageKind = "selection"
)

// MediaType is the kind of attached medium.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaDocument MediaType = "document"
	MediaAudio    MediaType = "audio"
	MediaVoice    MediaType = "voice"
	MediaVideo    MediaType = "video"
	MediaSticker  MediaType = "sticker"
)

// Error variables for better error handling and testability
var (
	ErrEmptyAddress = errors.New("address cannot be empty")
	ErrEmptyBody    = errors.New("message body cannot be empty")
	ErrEmptyMedia   = errors.New("media data cannot be empty")
)

// MediaInfo describes a medium attached to an inbound event.
type MediaInfo struct {
	Type     MediaType
	MimeType string
	FileName string
	Caption  string
	Size     uint64
	// Handle is the transport-specific payload used to download the bytes.
	Handle any
}

// InboundEvent is a conversation-originated message delivered by the transport.
type InboundEvent struct {
	ID          string
	From        Address
	Kind        MessageKind
	Text        string
	SelectionID string // row id of a list/button reply
	PushName    string // sender display name as reported by the transport
	Media       *MediaInfo
	Timestamp   time.Time
}

// HasText reports whether the event carries accompanying text or a caption.
func (e InboundEvent) HasText() bool {
	if strings.TrimSpace(e.Text) != "" {
		return true
	}
	return e.Media != nil && strings.TrimSpace(e.Media.Caption) != ""
}

// OperatorSend is a message the operator sent directly from the linked phone.
type OperatorSend struct {
	ID        string
	To        Address
	Text      string
	HasMedia  bool
	Timestamp time.Time
}

// OutboundMedia is a medium to send, with an optional caption.
type OutboundMedia struct {
	Type     MediaType
	Data     []byte
	MimeType string
	FileName string
	Caption  string
}

// Validate checks that the outbound medium can be sent.
func (m OutboundMedia) Validate() error {
	if len(m.Data) == 0 {
		return ErrEmptyMedia
	}
	return nil
}

// SessionRecord is the transient per-conversation dialog state.
// Zero timestamps mean "absent".
type SessionRecord struct {
	Address                Address
	State                  DialogState
	SilencedUntil          time.Time
	PendingForwardDeadline time.Time
	UpdatedAt              time.Time
}

// Silenced reports whether the record is in an active silence window at now.
func (s SessionRecord) Silenced(now time.Time) bool {
	return s.State == StateHumanSilenced && !s.SilencedUntil.IsZero() && now.Before(s.SilencedUntil)
}

// UserRecord is the durable per-conversation bookkeeping that survives restarts.
type UserRecord struct {
	Address          Address    `json:"address"`
	DisplayName      string     `json:"display_name,omitempty"`
	LastAttachmentAt *time.Time `json:"last_attachment_at,omitempty"`
	LastReminderAt   *time.Time `json:"last_reminder_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Reminded reports whether a reminder was already sent for the latest attachment.
func (u UserRecord) Reminded() bool {
	if u.LastReminderAt == nil || u.LastAttachmentAt == nil {
		return false
	}
	return !u.LastReminderAt.Before(*u.LastAttachmentAt)
}

// ReminderDue reports whether a follow-up reminder should be sent at now.
func (u UserRecord) ReminderDue(now time.Time, threshold time.Duration) bool {
	if u.LastAttachmentAt == nil {
		return false
	}
	if now.Sub(*u.LastAttachmentAt) < threshold {
		return false
	}
	return !u.Reminded()
}

// FirstName returns the first whitespace-separated token of a display name.
func FirstName(displayName string) string {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
