package tabular

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind  = errors.New("unknown entity kind")
	ErrInvalidInput = errors.New("invalid input")
)

// Kind identifies one of the four entity collections persisted as tabular files.
type Kind string

const (
	KindStory         Kind = "story"
	KindDonation      Kind = "donation"
	KindCollaboration Kind = "collaboration"
	KindStatusUpdate  Kind = "status_update"
)

// Kinds lists every entity kind in stable order.
func Kinds() []Kind {
	return []Kind{KindStory, KindDonation, KindCollaboration, KindStatusUpdate}
}

// Record is one row of an entity file. Implementations are plain value
// structs; Clone returns a deep copy so a cached record can never alias a
// snapshot held elsewhere.
type Record interface {
	RecordID() string
	RecordKind() Kind
	Clone() Record
	// fieldValues returns the encoded cell values in column order for the
	// record's kind. Used by the codec and the snapshot differ.
	fieldValues() []string
}

// Snapshots is the full id-keyed state of every entity kind at a point in
// time, as ordered row collections.
type Snapshots map[Kind][]Record

// CloneSnapshots deep-copies every record of every kind.
func CloneSnapshots(in Snapshots) Snapshots {
	out := make(Snapshots, len(in))
	for kind, records := range in {
		cloned := make([]Record, len(records))
		for i, record := range records {
			cloned[i] = record.Clone()
		}
		out[kind] = cloned
	}
	return out
}

type Story struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Location       string   `json:"location"`
	ContactInfo    string   `json:"contactInfo"`
	UrgencyLevel   string   `json:"urgencyLevel"`
	MediaFiles     []string `json:"mediaFiles"`
	DonationAmount float64  `json:"donationAmount"`
	DonorCount     int      `json:"donorCount"`
	Status         string   `json:"status"`
	CreatedAt      string   `json:"createdAt"`
	UpdatedAt      string   `json:"updatedAt"`
}

func (s Story) RecordID() string { return s.ID }

func (s Story) RecordKind() Kind { return KindStory }

func (s Story) Clone() Record {
	out := s
	out.MediaFiles = append([]string(nil), s.MediaFiles...)
	return out
}

type Donation struct {
	ID            string  `json:"id"`
	StoryID       string  `json:"storyId"`
	StoryTitle    string  `json:"storyTitle"`
	DonorName     string  `json:"donorName"`
	DonorUPI      string  `json:"donorUPI,omitempty"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"paymentMethod"`
	TransactionID string  `json:"transactionId,omitempty"`
	Status        string  `json:"status"`
	CompletedAt   string  `json:"completedAt,omitempty"`
	CreatedAt     string  `json:"createdAt"`
}

func (d Donation) RecordID() string { return d.ID }

func (d Donation) RecordKind() Kind { return KindDonation }

func (d Donation) Clone() Record { return d }

type Collaboration struct {
	ID                string   `json:"id"`
	OrganizationName  string   `json:"organizationName"`
	ContactPerson     string   `json:"contactPerson"`
	Email             string   `json:"email"`
	Phone             string   `json:"phone"`
	OrganizationType  string   `json:"organizationType"`
	CollaborationType string   `json:"collaborationType"`
	Resources         []string `json:"resources"`
	Description       string   `json:"description"`
	Status            string   `json:"status"`
	Priority          string   `json:"priority"`
	AdminNotes        string   `json:"adminNotes,omitempty"`
	SubmittedAt       string   `json:"submittedAt"`
	LastContactedAt   string   `json:"lastContactedAt,omitempty"`
	UpdatedAt         string   `json:"updatedAt"`
}

func (c Collaboration) RecordID() string { return c.ID }

func (c Collaboration) RecordKind() Kind { return KindCollaboration }

func (c Collaboration) Clone() Record {
	out := c
	out.Resources = append([]string(nil), c.Resources...)
	return out
}

// StatusUpdate is an append-only audit row. Rows are never replaced or
// deleted after creation; ids are store-assigned.
type StatusUpdate struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	ItemID     string `json:"itemId"`
	ItemTitle  string `json:"itemTitle,omitempty"`
	OldStatus  string `json:"oldStatus"`
	NewStatus  string `json:"newStatus"`
	UpdatedBy  string `json:"updatedBy"`
	AdminNotes string `json:"adminNotes,omitempty"`
	Timestamp  string `json:"timestamp"`
}

func (u StatusUpdate) RecordID() string { return u.ID }

func (u StatusUpdate) RecordKind() Kind { return KindStatusUpdate }

func (u StatusUpdate) Clone() Record { return u }

// FieldMap returns the record's encoded cells keyed by column name. The
// differ compares records field by field through this view.
func FieldMap(record Record) map[string]string {
	columns := columnsFor(record.RecordKind())
	values := record.fieldValues()
	out := make(map[string]string, len(columns))
	for i, column := range columns {
		out[column.Name] = values[i]
	}
	return out
}

// FieldNames returns the column names for a kind in file order.
func FieldNames(kind Kind) []string {
	columns := columnsFor(kind)
	out := make([]string, len(columns))
	for i, column := range columns {
		out[i] = column.Name
	}
	return out
}

func checkKind(kind Kind) error {
	switch kind {
	case KindStory, KindDonation, KindCollaboration, KindStatusUpdate:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
