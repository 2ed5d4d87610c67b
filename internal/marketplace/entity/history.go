package entity

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// StatusChange is one record in an entity's append-only status history.
type StatusChange struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Note      string    `json:"note,omitempty"`
	ChangedBy string    `json:"changed_by,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// EmailRecord is one record in an invoice's email history.
type EmailRecord struct {
	Recipient string    `json:"recipient"`
	Template  string    `json:"template"`
	SentAt    time.Time `json:"sent_at"`
}

// WebhookRecord is one raw provider callback stored against a payment.
type WebhookRecord struct {
	Provider   string          `json:"provider"`
	EventID    string          `json:"event_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// appendRecord decodes a JSONB array column, appends one record and
// re-encodes it. Histories are append-only; there is no removal path.
func appendRecord[T any](col datatypes.JSON, rec T) datatypes.JSON {
	var records []T
	if len(col) > 0 {
		// A corrupt column is replaced by a fresh array rather than
		// blocking the write; the raw value is still in the WAL.
		_ = json.Unmarshal(col, &records)
	}
	records = append(records, rec)
	out, err := json.Marshal(records)
	if err != nil {
		return col
	}
	return out
}

// AppendStatusChange appends one transition record to a status history column.
func AppendStatusChange(col datatypes.JSON, rec StatusChange) datatypes.JSON {
	return appendRecord(col, rec)
}

// AppendEmailRecord appends one send record to an email history column.
func AppendEmailRecord(col datatypes.JSON, rec EmailRecord) datatypes.JSON {
	return appendRecord(col, rec)
}

// AppendWebhookRecord appends one provider callback to a webhook log column.
func AppendWebhookRecord(col datatypes.JSON, rec WebhookRecord) datatypes.JSON {
	return appendRecord(col, rec)
}

// DecodeStatusHistory returns the parsed status history for read paths.
func DecodeStatusHistory(col datatypes.JSON) []StatusChange {
	var records []StatusChange
	if len(col) > 0 {
		_ = json.Unmarshal(col, &records)
	}
	return records
}

// DecodeWebhookHistory returns the parsed webhook log for read paths.
func DecodeWebhookHistory(col datatypes.JSON) []WebhookRecord {
	var records []WebhookRecord
	if len(col) > 0 {
		_ = json.Unmarshal(col, &records)
	}
	return records
}
