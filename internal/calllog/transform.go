package calllog

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Plausibility bounds for timestamps. Values outside this window are logged
// as suspicious but kept unchanged — the transformer never rejects a record
// for an implausible-but-parseable timestamp.
const suspiciousFutureWindow = 10 * 365 * 24 * time.Hour

var year2000 = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// unknownParty is rendered for a missing phone number, and for the self side
// of from/to when no self number is configured.
const unknownParty = "Unknown"

// Transformer converts raw device entries into canonical records. It is
// stateless apart from its configuration; Transform is safe for concurrent
// use.
type Transformer struct {
	// selfNumber is the configured "self" phone number, or empty when none
	// is known. When empty, direction resolution degrades to the
	// device-reported call-type code alone and the self side of from/to is
	// rendered as "Unknown".
	selfNumber string

	logger *slog.Logger

	// now is injectable for tests. Used as the fallback for unparseable
	// timestamps.
	now func() time.Time
}

// NewTransformer creates a Transformer. selfNumber may be empty.
func NewTransformer(selfNumber string, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Transformer{
		selfNumber: selfNumber,
		logger:     logger,
		now:        time.Now,
	}
}

// SelfNumber returns the configured self number, or "" when none is set.
func (t *Transformer) SelfNumber() string {
	return t.selfNumber
}

// NormalizeType maps a provider call-type signal to a CallType. Accepts
// numeric codes 1-6, their string forms, and canonical uppercase labels.
// Anything else maps to TypeUnknown.
func NormalizeType(signal string) CallType {
	switch strings.ToUpper(strings.TrimSpace(signal)) {
	case "1", "INCOMING":
		return TypeIncoming
	case "2", "OUTGOING":
		return TypeOutgoing
	case "3", "MISSED":
		return TypeMissed
	case "4", "VOICEMAIL":
		return TypeVoicemail
	case "5", "REJECTED":
		return TypeRejected
	case "6", "BLOCKED":
		return TypeBlocked
	default:
		return TypeUnknown
	}
}

// SanitizeTimestamp coerces a raw timestamp signal to epoch milliseconds.
// Absent, unparseable, or non-positive values substitute now — a deliberate
// "never drop a record for a bad timestamp" policy; the substituted value is
// lossy but the record survives. Implausible values (before 2000 or more
// than ten years ahead) are kept unchanged. Idempotent: sanitizing an
// already-sanitized value yields the same value.
func SanitizeTimestamp(raw string, now time.Time, logger *slog.Logger) int64 {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms <= 0 {
		if logger != nil {
			logger.Warn("invalid call timestamp, substituting current time",
				slog.String("raw", raw))
		}

		return now.UnixMilli()
	}

	if ms < year2000.UnixMilli() || ms > now.Add(suspiciousFutureWindow).UnixMilli() {
		if logger != nil {
			logger.Warn("suspicious call timestamp, keeping unchanged",
				slog.Int64("timestamp_ms", ms))
		}
	}

	return ms
}

// SanitizeDuration clamps a duration to a non-negative number of seconds.
// Idempotent.
func SanitizeDuration(d int64) int64 {
	if d < 0 {
		return 0
	}

	return d
}

// digits strips everything but 0-9 from a phone number, for structural
// comparison against the self number.
func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// statusFor derives the call status. Any positive duration means the call
// connected, so it is Completed regardless of the provider-reported type —
// duration is the signal providers get right. At zero duration the explicit
// provider Missed/Rejected/Blocked types win, and anything else was never
// answered. One rule, applied consistently; the softer
// provider-status-always-wins variant is intentionally not blended in.
func statusFor(ct CallType, duration int64) CallStatus {
	if duration > 0 {
		return StatusCompleted
	}

	switch ct {
	case TypeMissed:
		return StatusMissed
	case TypeRejected:
		return StatusRejected
	case TypeBlocked:
		return StatusBlocked
	default:
		return StatusNoAnswer
	}
}

// Transform converts one raw entry into a canonical record.
//
// The from/to assignment runs in two passes. The first is direction-based:
// outgoing calls put self in "from", everything else puts the device number
// in "from". The second pass compares the digit-only forms of from/to
// against the digit-only self number and rewrites the type accordingly —
// the digit comparison is authoritative because provider call-type codes are
// unreliable and the self number may not have been known at call time. The
// second pass is skipped entirely when no self number is configured.
//
// The error return exists for the per-record collection path in the
// orchestrator; with the timestamp fallback in place it is effectively
// unreachable.
func (t *Transformer) Transform(e RawEntry) (Record, error) {
	now := t.now()

	ct := NormalizeType(e.Type)
	ms := SanitizeTimestamp(e.Timestamp, now, t.logger)
	duration := SanitizeDuration(e.Duration)

	start := time.UnixMilli(ms)
	if start.Year() < 1 || start.Year() > 9999 {
		// Defensive second fallback: a timestamp the formatter cannot
		// represent. Should be unreachable given SanitizeTimestamp.
		t.logger.Warn("timestamp unrepresentable after sanitization, substituting current time",
			slog.Int64("timestamp_ms", ms))

		ms = now.UnixMilli()
		start = time.UnixMilli(ms)
	}

	end := start.Add(time.Duration(duration) * time.Second)

	number := strings.TrimSpace(e.Number)
	if number == "" {
		number = unknownParty
	}

	self := t.selfNumber
	if self == "" {
		self = unknownParty
	}

	rec := Record{
		Type:         ct,
		Status:       statusFor(ct, duration),
		Duration:     duration,
		StartTime:    start.Format(TimeFormat),
		EndTime:      end.Format(TimeFormat),
		DeviceCallID: fmt.Sprintf("device_%d_%s", ms, number),
		Source:       Source,
		ContactName:  norm.NFC.String(e.Name),
	}

	// First pass: direction-based assignment.
	if ct == TypeOutgoing {
		rec.From = self
		rec.To = number
	} else {
		rec.From = number
		rec.To = self
	}

	// Second pass: digit comparison against the self number is the
	// authoritative direction signal whenever one is configured.
	selfDigits := digits(t.selfNumber)
	if selfDigits != "" && digits(number) != "" {
		switch {
		case digits(rec.To) == selfDigits:
			rec.Type = TypeIncoming
		case digits(rec.From) == selfDigits:
			rec.Type = TypeOutgoing
		}
	}

	return rec, nil
}

// TransformAll converts a batch of entries, collecting per-entry failures
// instead of aborting. The returned errors are aggregated by the caller.
func (t *Transformer) TransformAll(entries []RawEntry) ([]Record, []error) {
	records := make([]Record, 0, len(entries))

	var errs []error

	for _, e := range entries {
		rec, err := t.Transform(e)
		if err != nil {
			t.logger.Error("transforming call entry",
				slog.Int("index", e.Index),
				slog.String("error", err.Error()))

			errs = append(errs, fmt.Errorf("entry %d: %w", e.Index, err))

			continue
		}

		records = append(records, rec)
	}

	return records, errs
}
