package models

import "fmt"

// Availability is the self-reported readiness of a counselor. Approval is a
// separate flag on Counselor; there is no "pending" availability.
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityAway      Availability = "away"
)

// ParseAvailability converts transport input into an Availability.
func ParseAvailability(s string) (Availability, error) {
	a := Availability(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown availability %q", s)
	}
	return a, nil
}

func (a Availability) Valid() bool {
	switch a {
	case AvailabilityAvailable, AvailabilityBusy, AvailabilityAway:
		return true
	}
	return false
}

// SenderType is the role of a message author.
type SenderType string

const (
	SenderUser      SenderType = "user"
	SenderCounselor SenderType = "counselor"
)

func ParseSenderType(s string) (SenderType, error) {
	t := SenderType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown sender type %q", s)
	}
	return t, nil
}

func (t SenderType) Valid() bool {
	return t == SenderUser || t == SenderCounselor
}

// Counterpart returns the opposite role.
func (t SenderType) Counterpart() SenderType {
	if t == SenderUser {
		return SenderCounselor
	}
	return SenderUser
}

// ReportAction is the administrator's decision on a report.
type ReportAction string

const (
	ReportActionStrike  ReportAction = "strike"
	ReportActionDismiss ReportAction = "dismiss"
)

func ParseReportAction(s string) (ReportAction, error) {
	a := ReportAction(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown report action %q", s)
	}
	return a, nil
}

func (a ReportAction) Valid() bool {
	return a == ReportActionStrike || a == ReportActionDismiss
}

// AppealOutcome is the administrator's decision on an appeal.
type AppealOutcome string

const (
	// AppealApprove restores approval and lifts the suspension.
	AppealApprove AppealOutcome = "approve"
	// AppealRevokeSuspension lifts the suspension only.
	AppealRevokeSuspension AppealOutcome = "revoke_suspension"
)

func ParseAppealOutcome(s string) (AppealOutcome, error) {
	o := AppealOutcome(s)
	if !o.Valid() {
		return "", fmt.Errorf("unknown appeal outcome %q", s)
	}
	return o, nil
}

func (o AppealOutcome) Valid() bool {
	return o == AppealApprove || o == AppealRevokeSuspension
}

// ConversationState is owned by the conversation layer. The router only reads
// it to decide whether free text belongs to a session.
type ConversationState string

const (
	StateIdle             ConversationState = ""
	StateAwaitingConsent  ConversationState = "awaiting_consent"
	StateWaitingCounselor ConversationState = "waiting_for_counselor"
	StateInSession        ConversationState = "in_session"
	StatePrayerRequest    ConversationState = "prayer_request"
)

// Routable reports whether free text from a user in this state enters the
// message router.
func (s ConversationState) Routable() bool {
	return s == StateInSession
}

// AuditAction labels an administrative action.
type AuditAction string

const (
	AuditApproveCounselor  AuditAction = "approve_counselor"
	AuditRemoveCounselor   AuditAction = "remove_counselor"
	AuditSetAvailability   AuditAction = "set_availability"
	AuditProcessReport     AuditAction = "process_report"
	AuditResolveAppeal     AuditAction = "resolve_appeal"
	AuditEndSession        AuditAction = "end_session"
	AuditTerminateSessions AuditAction = "terminate_sessions"
)
