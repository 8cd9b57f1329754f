package tabular

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidateRecord applies the write-side rules for the record's kind and
// returns every violated rule. An empty slice means the record may be
// persisted. Validation never rejects partially: either the whole record is
// acceptable or nothing is written.
func ValidateRecord(record Record) []string {
	switch r := record.(type) {
	case Story:
		return validateStory(r)
	case Donation:
		return validateDonation(r)
	case Collaboration:
		return validateCollaboration(r)
	case StatusUpdate:
		return validateStatusUpdate(r)
	default:
		return []string{"Unknown record kind"}
	}
}

func validateStory(story Story) []string {
	var errs []string
	if story.ID == "" {
		errs = append(errs, "Story ID is required")
	}
	if strings.TrimSpace(story.Title) == "" {
		errs = append(errs, "Story title is required")
	}
	if strings.TrimSpace(story.Description) == "" {
		errs = append(errs, "Story description is required")
	}
	if strings.TrimSpace(story.Location) == "" {
		errs = append(errs, "Location is required")
	}
	return errs
}

func validateDonation(donation Donation) []string {
	var errs []string
	if donation.ID == "" {
		errs = append(errs, "Donation ID is required")
	}
	if donation.Amount <= 0 {
		errs = append(errs, "Valid donation amount is required")
	}
	if strings.TrimSpace(donation.DonorName) == "" {
		errs = append(errs, "Donor name is required")
	}
	return errs
}

func validateCollaboration(collaboration Collaboration) []string {
	var errs []string
	if collaboration.ID == "" {
		errs = append(errs, "Collaboration ID is required")
	}
	if strings.TrimSpace(collaboration.OrganizationName) == "" {
		errs = append(errs, "Organization name is required")
	}
	if !emailPattern.MatchString(collaboration.Email) {
		errs = append(errs, "Valid email is required")
	}
	return errs
}

func validateStatusUpdate(update StatusUpdate) []string {
	var errs []string
	switch update.Type {
	case string(KindStory), string(KindDonation), string(KindCollaboration):
	default:
		errs = append(errs, "Valid update type is required")
	}
	if strings.TrimSpace(update.ItemID) == "" {
		errs = append(errs, "Item ID is required")
	}
	if strings.TrimSpace(update.NewStatus) == "" {
		errs = append(errs, "New status is required")
	}
	return errs
}
