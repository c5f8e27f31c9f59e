package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/callsync/callsync-go/internal/calllog"
)

// Batch ingestion endpoint. Accepts {call_logs_data: [...]} and answers with
// per-batch counts, either nested inside the RPC envelope's "message" field
// or flat in the legacy shape.
const syncPath = "/api/method/crm.api.mobile_sync.sync_call_logs"

// BatchResult is the remote system's verdict on one submitted batch. The
// client performs no duplicate suppression of its own — the remote has full
// visibility into previously ingested records and reports duplicates here.
type BatchResult struct {
	Success        bool
	Message        string
	SuccessCount   int
	FailureCount   int
	DuplicateCount int
	Errors         []string
	ProcessedIDs   []string
}

// batchPayload mirrors both response shapes the server emits. Counts may sit
// at the top level (legacy) or one level down in "data" (current).
type batchPayload struct {
	Success        bool            `json:"success"`
	Message        json.RawMessage `json:"message"` // string in flat shape, object in envelope
	SuccessCount   int             `json:"success_count"`
	FailureCount   int             `json:"failure_count"`
	DuplicateCount int             `json:"duplicate_count"`
	Errors         []string        `json:"errors"`
	ProcessedIDs   []string        `json:"processed_ids"`
	Data           *batchPayload   `json:"data"`
}

// SubmitCallLogs submits the full transformed batch in one call and returns
// the remote counts. Records are an unordered set as far as the server is
// concerned; each entry self-describes its own timestamp.
func (c *Client) SubmitCallLogs(ctx context.Context, records []calllog.Record) (*BatchResult, error) {
	c.logger.Info("submitting call-log batch", slog.Int("count", len(records)))

	var envelope batchPayload
	err := c.postJSON(ctx, syncPath, map[string]any{"call_logs_data": records}, &envelope)
	if err != nil {
		return nil, err
	}

	result, err := unwrapBatch(&envelope)
	if err != nil {
		return nil, err
	}

	c.logger.Info("batch submission result",
		slog.Int("synced", result.SuccessCount),
		slog.Int("failed", result.FailureCount),
		slog.Int("duplicates", result.DuplicateCount),
	)

	return result, nil
}

// unwrapBatch accepts either response shape: an RPC envelope whose "message"
// field carries the structured result, or the legacy flat object.
func unwrapBatch(envelope *batchPayload) (*BatchResult, error) {
	payload := envelope

	// Enveloped shape: {"message": {"success": ..., "data": {...}}}.
	if len(envelope.Message) > 0 && envelope.Message[0] == '{' {
		var inner batchPayload
		if err := json.Unmarshal(envelope.Message, &inner); err != nil {
			return nil, fmt.Errorf("crm: decoding batch envelope: %w", err)
		}

		payload = &inner
	}

	counts := payload
	if payload.Data != nil {
		counts = payload.Data
	}

	result := &BatchResult{
		Success:        payload.Success,
		SuccessCount:   counts.SuccessCount,
		FailureCount:   counts.FailureCount,
		DuplicateCount: counts.DuplicateCount,
		Errors:         counts.Errors,
		ProcessedIDs:   counts.ProcessedIDs,
	}

	// In both shapes "message" is a human-readable string at this level.
	if len(payload.Message) > 0 && payload.Message[0] == '"' {
		_ = json.Unmarshal(payload.Message, &result.Message)
	}

	if !result.Success && result.SuccessCount == 0 && result.FailureCount == 0 {
		msg := result.Message
		if msg == "" {
			msg = "batch sync failed"
		}

		return nil, fmt.Errorf("crm: %s", msg)
	}

	return result, nil
}
