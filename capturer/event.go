package capturer

import "time"

type ChangeType string

const (
	Insert ChangeType = "INSERT"
	Update ChangeType = "UPDATE"
	Delete ChangeType = "DELETE"
)

// ChangeEvent is a decoded notification that a watched record was created,
// modified or removed.
type ChangeEvent struct {
	// EntityType is the watched type the event belongs to.
	EntityType string `json:"entity_type"`

	// ChangeType is the kind of mutation. Source operations other than
	// insert/update/delete are carried upper-cased and ignored by handlers.
	ChangeType ChangeType `json:"change_type"`

	// UUID is the primary key of the affected record.
	UUID string `json:"uuid"`

	// FullDocument is the latest snapshot of the record at capture time
	// - INSERT/UPDATE: the whole document
	// - DELETE: nil
	FullDocument map[string]any `json:"full_document,omitempty"`

	// ResumeToken is the opaque stream position right after this event.
	ResumeToken string `json:"resume_token,omitempty"`

	// Timestamp is the time the event was captured
	Timestamp time.Time `json:"timestamp"`
}

// Field returns a value from the full document.
func (e *ChangeEvent) Field(name string) (any, bool) {
	if e.FullDocument == nil {
		return nil, false
	}
	v, ok := e.FullDocument[name]
	return v, ok
}
