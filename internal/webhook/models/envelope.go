package models

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	id "incentra/pkg/domain"
	dErrors "incentra/pkg/domain-errors"
)

// Metadata records how an event came to be dispatched. All fields are
// optional; empty metadata is omitted from the wire envelope.
type Metadata struct {
	ActorID     string `json:"actor_id,omitempty"`
	ActorEmail  string `json:"actor_email,omitempty"`
	SourceIP    string `json:"source_ip,omitempty"`
	TriggerMode string `json:"trigger_mode,omitempty"`
}

// IsEmpty reports whether no metadata field is set.
func (m *Metadata) IsEmpty() bool {
	if m == nil {
		return true
	}
	return *m == Metadata{}
}

// Envelope is the immutable event document sent to subscribers. It is
// serialized once at dispatch time and those exact bytes are reused for every
// recipient and every retry; the signature always covers the original bytes.
type Envelope struct {
	ID             string            `json:"id"`
	Event          EventType         `json:"event"`
	CreatedAt      time.Time         `json:"created_at"`
	OrganizationID id.OrgID          `json:"organization_id"`
	APIVersion     id.APIVersion     `json:"api_version"`
	Data           map[string]any    `json:"data"`
	Metadata       *Metadata         `json:"metadata,omitempty"`
}

// NewEnvelope builds an envelope for one dispatch. A fresh ID is generated on
// every call — retries reuse the stored envelope, never a reformatted one.
// Data is copied by value so later mutation of caller-owned maps cannot leak
// into the envelope.
func NewEnvelope(eventType EventType, data map[string]any, orgID id.OrgID, now time.Time, meta *Metadata) (*Envelope, error) {
	if !eventType.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown event type %q", eventType)
	}
	if orgID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "organization id is required")
	}

	env := &Envelope{
		ID:             newEventID(now),
		Event:          eventType,
		CreatedAt:      now.UTC(),
		OrganizationID: orgID,
		APIVersion:     id.APIVersionV1,
		Data:           copyMap(data),
	}
	if !meta.IsEmpty() {
		m := *meta
		env.Metadata = &m
	}
	return env, nil
}

// newEventID returns a time-ordered, collision-resistant event identifier:
// evt_<unix-millis>_<12 hex chars>.
func newEventID(now time.Time) string {
	suffix := make([]byte, 6)
	_, _ = rand.Read(suffix)
	return "evt_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + hex.EncodeToString(suffix)
}

// copyMap deep-copies JSON-shaped data (maps, slices, scalars). Values of
// other kinds are carried as-is; producers own their payload schemas.
func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return copyMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
