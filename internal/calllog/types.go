// Package calllog defines the canonical call-log record shapes and the
// transformer that converts raw device entries into CRM-ready records.
// The transformer is a pure function over its inputs: direction resolution,
// timestamp/duration sanitization, and status derivation all happen here.
package calllog

// CallType is the resolved direction/category of a call.
type CallType string

// Call types understood by the CRM.
const (
	TypeIncoming  CallType = "Incoming"
	TypeOutgoing  CallType = "Outgoing"
	TypeMissed    CallType = "Missed"
	TypeVoicemail CallType = "Voicemail"
	TypeRejected  CallType = "Rejected"
	TypeBlocked   CallType = "Blocked"

	// TypeUnknown marks an unrecognized provider signal. Unknown entries are
	// carried through rather than rejected so operators can triage bad data
	// on the CRM side.
	TypeUnknown CallType = "Unknown"
)

// CallStatus is the derived outcome of a call.
type CallStatus string

// Call statuses understood by the CRM.
const (
	StatusCompleted CallStatus = "Completed"
	StatusMissed    CallStatus = "Missed"
	StatusRejected  CallStatus = "Rejected"
	StatusBlocked   CallStatus = "Blocked"
	StatusNoAnswer  CallStatus = "No Answer"
)

// TimeFormat is the fixed, timezone-free timestamp layout the CRM date
// parser accepts. Local clock, second precision, no zone suffix.
const TimeFormat = "2006-01-02 15:04:05"

// Source tags records as originating from this agent.
const Source = "Mobile App"

// RawEntry is one call-log row as read from the device. Produced transiently
// per read and never persisted. The provider signals are kept loosely typed
// because devices disagree on representations: Type may be a numeric code,
// a numeric string, or an uppercase label, and Timestamp may be malformed.
type RawEntry struct {
	// Number is the other party's phone number. May be empty or "Unknown".
	Number string

	// Name is the contact display name, if the device resolved one.
	Name string

	// Type is the provider call-type signal: "1".."6", or a label such as
	// "INCOMING". Unrecognized values map to TypeUnknown.
	Type string

	// Timestamp is the call start in epoch milliseconds, as reported.
	Timestamp string

	// Duration is the call duration in seconds. Negative values are
	// sanitized to zero.
	Duration int64

	// Index is the device-local offset of this entry. Not a stable id.
	Index int
}

// Record is a canonical call-log record ready for batch submission.
// Invariant: EndTime equals StartTime plus Duration seconds, and exactly one
// of From/To equals the configured self number when one is configured.
type Record struct {
	From     string     `json:"from"`
	To       string     `json:"to"`
	Type     CallType   `json:"type"`
	Status   CallStatus `json:"status"`
	Duration int64      `json:"duration"`

	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`

	// DeviceCallID is a synthesized idempotency hint built from the call
	// timestamp and number. It assists the remote system's duplicate
	// detection but does not guarantee it — the remote owns dedup.
	DeviceCallID string `json:"device_call_id"`

	Source      string `json:"source"`
	ContactName string `json:"contact_name,omitempty"`
}
