package whatsapp

import (
	"fmt"
	"strings"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"go.mau.fi/whatsmeow/types"
)

// minPhoneDigits is the shortest bare phone number accepted as an address.
const minPhoneDigits = 10

// ToJID converts an address to a JID. Accepts "5511999999999",
// "+55 11 99999-9999" or a full JID such as "5511999999999@s.whatsapp.net".
func ToJID(addr models.Address) (types.JID, error) {
	s := strings.TrimSpace(string(addr))
	if s == "" {
		return types.JID{}, models.ErrEmptyAddress
	}
	if strings.Contains(s, "@") {
		jid, err := types.ParseJID(s)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid address %q: %w", s, err)
		}
		return jid, nil
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < minPhoneDigits {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

// ToAddress converts a JID to a conversation address without device suffix.
func ToAddress(jid types.JID) models.Address {
	return models.Address(jid.ToNonAD().String())
}

// IsConversationAddress reports whether addr is a one-to-one conversation.
// Groups, broadcast lists, status updates and newsletters are rejected.
func IsConversationAddress(addr models.Address) bool {
	jid, err := ToJID(addr)
	if err != nil {
		return false
	}
	switch jid.Server {
	case types.DefaultUserServer, types.HiddenUserServer:
		return jid.User != ""
	default:
		return false
	}
}
