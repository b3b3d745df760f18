package telegram

import (
	"sanctuary/backend/internal/chathub"
	"sanctuary/backend/internal/localization"
	"sanctuary/backend/internal/models"
)

// NewFormatter renders hub events as localized chat text. Counselors and
// users only ever see each other's messages, never ids or handles.
func NewFormatter(l *localization.Localizer) chathub.Formatter {
	return func(recipientType models.SenderType, ev chathub.Event) string {
		lang := localization.DefaultLanguage
		switch ev.Type {
		case chathub.EventMessage:
			if ev.Delivery == nil {
				return ""
			}
			if ev.Delivery.Message.SenderType == models.SenderCounselor {
				return l.Format(lang, "from_counselor", ev.Delivery.Message.Content)
			}
			return l.Format(lang, "from_user", ev.Delivery.Message.Content)
		case chathub.EventSessionStart:
			if recipientType == models.SenderCounselor {
				return l.Format(lang, "session_started_counselor", ev.SessionID)
			}
			return l.GetString(lang, "session_started_user")
		case chathub.EventSessionEnd:
			if recipientType == models.SenderUser {
				return l.GetString(lang, "session_ended") + "\n" + l.GetString(lang, "rate_prompt")
			}
			return l.GetString(lang, "session_ended")
		}
		return ev.Text
	}
}
