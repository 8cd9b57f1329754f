package tabular

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeStoryRoundTrip(t *testing.T) {
	story := Story{
		ID:             "s1",
		Title:          "Borewell for Ramgarh",
		Description:    "Funding a community borewell",
		Location:       "Ramgarh",
		ContactInfo:    "9876543210",
		UrgencyLevel:   "high",
		MediaFiles:     []string{"well.jpg", "site.jpg"},
		DonationAmount: 12500.50,
		DonorCount:     17,
		Status:         "active",
		CreatedAt:      "2025-01-12T08:30:00Z",
		UpdatedAt:      "2025-02-01T10:00:00Z",
	}
	row := EncodeRecord(story)
	if len(row) != len(HeaderRow(KindStory)) {
		t.Fatalf("row width = %d, header width = %d", len(row), len(HeaderRow(KindStory)))
	}
	decoded, err := DecodeRecord(KindStory, row)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if !reflect.DeepEqual(decoded, story) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, story)
	}
}

func TestListCellsUseDelimiter(t *testing.T) {
	collab := Collaboration{
		ID:               "c1",
		OrganizationName: "Helping Hands",
		Resources:        []string{"volunteers", "transport", "funds"},
	}
	row := EncodeRecord(collab)
	// Resources is column 8 of the collaboration layout.
	if got := row[7]; got != "volunteers, transport, funds" {
		t.Fatalf("resources cell = %q", got)
	}

	decoded, err := DecodeRecord(KindCollaboration, row)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if !reflect.DeepEqual(decoded.(Collaboration).Resources, collab.Resources) {
		t.Fatalf("resources = %v", decoded.(Collaboration).Resources)
	}
}

func TestEmptyListCellDecodesToEmptyList(t *testing.T) {
	row := make([]string, len(HeaderRow(KindStory)))
	row[0] = "s1"
	decoded, err := DecodeRecord(KindStory, row)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	story := decoded.(Story)
	if story.MediaFiles == nil || len(story.MediaFiles) != 0 {
		t.Fatalf("media files = %#v, want empty non-nil list", story.MediaFiles)
	}
}

func TestDecodeToleratesShortRows(t *testing.T) {
	decoded, err := DecodeRecord(KindDonation, []string{"d1", "s1", "Well", "Asha", "", "500"})
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	donation := decoded.(Donation)
	if donation.ID != "d1" || donation.Amount != 500 {
		t.Fatalf("decoded = %+v", donation)
	}
	if donation.Status != "" {
		t.Fatalf("missing cells should decode to zero values, got status %q", donation.Status)
	}
}

func TestDecodeRejectsBadNumericCells(t *testing.T) {
	row := make([]string, len(HeaderRow(KindDonation)))
	row[0] = "d1"
	row[5] = "five hundred"
	if _, err := DecodeRecord(KindDonation, row); err == nil {
		t.Fatal("expected error for non-numeric amount cell")
	}
}

func TestDecodeRecordUnknownKind(t *testing.T) {
	if _, err := DecodeRecord(Kind("invoice"), []string{"x"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestHeaderRowUsesHumanLabels(t *testing.T) {
	header := HeaderRow(KindDonation)
	if header[0] != "Donation ID" {
		t.Fatalf("header[0] = %q", header[0])
	}
	if header[7] != "UTR/Transaction ID" {
		t.Fatalf("header[7] = %q", header[7])
	}
}

func TestFieldMapMatchesFieldNames(t *testing.T) {
	for _, kind := range Kinds() {
		names := FieldNames(kind)
		var record Record
		switch kind {
		case KindStory:
			record = Story{ID: "s1"}
		case KindDonation:
			record = Donation{ID: "d1"}
		case KindCollaboration:
			record = Collaboration{ID: "c1"}
		default:
			record = StatusUpdate{ID: "u1"}
		}
		fields := FieldMap(record)
		if len(fields) != len(names) {
			t.Fatalf("%s: field map has %d entries, %d names", kind, len(fields), len(names))
		}
		for _, name := range names {
			if _, ok := fields[name]; !ok {
				t.Fatalf("%s: field map missing %s", kind, name)
			}
		}
	}
}
