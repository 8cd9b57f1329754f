package tabular

import (
	"fmt"
	"strconv"
	"strings"
)

// ListDelimiter joins multi-value cells (media filenames, resources). The
// same delimiter is used on encode and decode so a file edited by hand stays
// round-trippable.
const ListDelimiter = ", "

type column struct {
	Name  string
	Label string
}

var storyColumns = []column{
	{"ID", "Story ID"},
	{"Title", "Story Title"},
	{"Description", "Story Description"},
	{"Location", "Location"},
	{"ContactInfo", "Contact Information"},
	{"UrgencyLevel", "Urgency Level"},
	{"MediaFiles", "Media Files"},
	{"DonationAmount", "Total Donations"},
	{"DonorCount", "Number of Donors"},
	{"Status", "Status"},
	{"CreatedAt", "Created Date"},
	{"UpdatedAt", "Last Updated"},
}

var donationColumns = []column{
	{"ID", "Donation ID"},
	{"StoryID", "Story ID"},
	{"StoryTitle", "Story Title"},
	{"DonorName", "Donor Name"},
	{"DonorUPI", "Donor UPI ID"},
	{"Amount", "Donation Amount"},
	{"PaymentMethod", "Payment Method"},
	{"TransactionID", "UTR/Transaction ID"},
	{"Status", "Payment Status"},
	{"CompletedAt", "Completion Date"},
	{"CreatedAt", "Created Date"},
}

var collaborationColumns = []column{
	{"ID", "Collaboration ID"},
	{"OrganizationName", "Organization Name"},
	{"ContactPerson", "Contact Person"},
	{"Email", "Email Address"},
	{"Phone", "Phone Number"},
	{"OrganizationType", "Organization Type"},
	{"CollaborationType", "Collaboration Type"},
	{"Resources", "Available Resources"},
	{"Description", "Description"},
	{"Status", "Status"},
	{"Priority", "Priority"},
	{"AdminNotes", "Admin Notes"},
	{"SubmittedAt", "Submitted Date"},
	{"LastContactedAt", "Last Contacted"},
	{"UpdatedAt", "Last Updated"},
}

var statusUpdateColumns = []column{
	{"ID", "Update ID"},
	{"Type", "Update Type"},
	{"ItemID", "Item ID"},
	{"ItemTitle", "Item Title"},
	{"OldStatus", "Previous Status"},
	{"NewStatus", "New Status"},
	{"UpdatedBy", "Updated By"},
	{"AdminNotes", "Admin Notes"},
	{"Timestamp", "Update Timestamp"},
}

func columnsFor(kind Kind) []column {
	switch kind {
	case KindStory:
		return storyColumns
	case KindDonation:
		return donationColumns
	case KindCollaboration:
		return collaborationColumns
	case KindStatusUpdate:
		return statusUpdateColumns
	default:
		return nil
	}
}

// HeaderRow returns the human-readable label row written as row 1 of the
// entity's file.
func HeaderRow(kind Kind) []string {
	columns := columnsFor(kind)
	out := make([]string, len(columns))
	for i, col := range columns {
		out[i] = col.Label
	}
	return out
}

func encodeList(values []string) string {
	return strings.Join(values, ListDelimiter)
}

func decodeList(cell string) []string {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return []string{}
	}
	parts := strings.Split(cell, ListDelimiter)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.TrimSpace(part))
	}
	return out
}

func encodeAmount(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func decodeAmount(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0, nil
	}
	return strconv.ParseFloat(cell, 64)
}

func decodeCount(cell string) (int, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0, nil
	}
	return strconv.Atoi(cell)
}

func (s Story) fieldValues() []string {
	return []string{
		s.ID,
		s.Title,
		s.Description,
		s.Location,
		s.ContactInfo,
		s.UrgencyLevel,
		encodeList(s.MediaFiles),
		encodeAmount(s.DonationAmount),
		strconv.Itoa(s.DonorCount),
		s.Status,
		s.CreatedAt,
		s.UpdatedAt,
	}
}

func (d Donation) fieldValues() []string {
	return []string{
		d.ID,
		d.StoryID,
		d.StoryTitle,
		d.DonorName,
		d.DonorUPI,
		encodeAmount(d.Amount),
		d.PaymentMethod,
		d.TransactionID,
		d.Status,
		d.CompletedAt,
		d.CreatedAt,
	}
}

func (c Collaboration) fieldValues() []string {
	return []string{
		c.ID,
		c.OrganizationName,
		c.ContactPerson,
		c.Email,
		c.Phone,
		c.OrganizationType,
		c.CollaborationType,
		encodeList(c.Resources),
		c.Description,
		c.Status,
		c.Priority,
		c.AdminNotes,
		c.SubmittedAt,
		c.LastContactedAt,
		c.UpdatedAt,
	}
}

func (u StatusUpdate) fieldValues() []string {
	return []string{
		u.ID,
		u.Type,
		u.ItemID,
		u.ItemTitle,
		u.OldStatus,
		u.NewStatus,
		u.UpdatedBy,
		u.AdminNotes,
		u.Timestamp,
	}
}

// EncodeRecord serializes a record into one file row in column order.
func EncodeRecord(record Record) []string {
	return record.fieldValues()
}

// DecodeRecord parses one file row into a typed record. A row whose cells
// cannot be parsed (for example a non-numeric amount typed in by hand) is
// rejected with an error rather than silently coerced.
func DecodeRecord(kind Kind, row []string) (Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	row = padRow(row, len(columnsFor(kind)))
	switch kind {
	case KindStory:
		amount, err := decodeAmount(row[7])
		if err != nil {
			return nil, fmt.Errorf("story %q: bad donation amount %q", row[0], row[7])
		}
		count, err := decodeCount(row[8])
		if err != nil {
			return nil, fmt.Errorf("story %q: bad donor count %q", row[0], row[8])
		}
		return Story{
			ID:             row[0],
			Title:          row[1],
			Description:    row[2],
			Location:       row[3],
			ContactInfo:    row[4],
			UrgencyLevel:   row[5],
			MediaFiles:     decodeList(row[6]),
			DonationAmount: amount,
			DonorCount:     count,
			Status:         row[9],
			CreatedAt:      row[10],
			UpdatedAt:      row[11],
		}, nil
	case KindDonation:
		amount, err := decodeAmount(row[5])
		if err != nil {
			return nil, fmt.Errorf("donation %q: bad amount %q", row[0], row[5])
		}
		return Donation{
			ID:            row[0],
			StoryID:       row[1],
			StoryTitle:    row[2],
			DonorName:     row[3],
			DonorUPI:      row[4],
			Amount:        amount,
			PaymentMethod: row[6],
			TransactionID: row[7],
			Status:        row[8],
			CompletedAt:   row[9],
			CreatedAt:     row[10],
		}, nil
	case KindCollaboration:
		return Collaboration{
			ID:                row[0],
			OrganizationName:  row[1],
			ContactPerson:     row[2],
			Email:             row[3],
			Phone:             row[4],
			OrganizationType:  row[5],
			CollaborationType: row[6],
			Resources:         decodeList(row[7]),
			Description:       row[8],
			Status:            row[9],
			Priority:          row[10],
			AdminNotes:        row[11],
			SubmittedAt:       row[12],
			LastContactedAt:   row[13],
			UpdatedAt:         row[14],
		}, nil
	default:
		return StatusUpdate{
			ID:         row[0],
			Type:       row[1],
			ItemID:     row[2],
			ItemTitle:  row[3],
			OldStatus:  row[4],
			NewStatus:  row[5],
			UpdatedBy:  row[6],
			AdminNotes: row[7],
			Timestamp:  row[8],
		}, nil
	}
}

// padRow tolerates short rows from hand-edited files; trailing empty cells
// are routinely dropped by office software on save.
func padRow(row []string, width int) []string {
	if len(row) >= width {
		return row[:width]
	}
	out := make([]string, width)
	copy(out, row)
	return out
}
