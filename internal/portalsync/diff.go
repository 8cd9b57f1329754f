package portalsync

import (
	"github.com/carebridge/portal/internal/tabular"
)

// FieldChange records one cell that differs between the old and new version
// of a record, for observability in change notifications.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

// ModifiedRecord pairs the old and new versions of a record whose content
// changed, plus the per-field delta.
type ModifiedRecord struct {
	ID            string         `json:"id"`
	Old           tabular.Record `json:"old"`
	New           tabular.Record `json:"new"`
	ChangedFields []FieldChange  `json:"changedFields"`
}

// KindDiff partitions one entity kind's ids into added, modified, and
// deleted. Ids absent from all three buckets are unchanged.
type KindDiff struct {
	Added    []tabular.Record `json:"added"`
	Modified []ModifiedRecord `json:"modified"`
	Deleted  []tabular.Record `json:"deleted"`
}

func (d KindDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// DiffResult maps each entity kind to its diff.
type DiffResult map[tabular.Kind]KindDiff

// Diff compares two snapshots of the same entity kind, keyed by record id.
// Records are matched by id, never by positional index; equality is deep
// structural equality over every field. Added records keep new-snapshot
// order, deleted records keep old-snapshot order.
func Diff(old, fresh []tabular.Record) KindDiff {
	oldByID := make(map[string]tabular.Record, len(old))
	for _, record := range old {
		oldByID[record.RecordID()] = record
	}
	freshByID := make(map[string]tabular.Record, len(fresh))
	for _, record := range fresh {
		freshByID[record.RecordID()] = record
	}

	var diff KindDiff
	for _, record := range fresh {
		previous, ok := oldByID[record.RecordID()]
		if !ok {
			diff.Added = append(diff.Added, record)
			continue
		}
		changed := changedFields(previous, record)
		if len(changed) == 0 {
			continue
		}
		diff.Modified = append(diff.Modified, ModifiedRecord{
			ID:            record.RecordID(),
			Old:           previous,
			New:           record,
			ChangedFields: changed,
		})
	}
	for _, record := range old {
		if _, ok := freshByID[record.RecordID()]; !ok {
			diff.Deleted = append(diff.Deleted, record)
		}
	}
	return diff
}

// DiffSnapshots diffs every entity kind independently.
func DiffSnapshots(old, fresh tabular.Snapshots) DiffResult {
	out := make(DiffResult, len(tabular.Kinds()))
	for _, kind := range tabular.Kinds() {
		out[kind] = Diff(old[kind], fresh[kind])
	}
	return out
}

// HasSignificantChange reports whether any kind shows any added, modified,
// or deleted record.
func HasSignificantChange(result DiffResult) bool {
	for _, diff := range result {
		if !diff.Empty() {
			return true
		}
	}
	return false
}

func changedFields(old, fresh tabular.Record) []FieldChange {
	oldFields := tabular.FieldMap(old)
	freshFields := tabular.FieldMap(fresh)
	var changes []FieldChange
	for _, field := range tabular.FieldNames(fresh.RecordKind()) {
		if oldFields[field] != freshFields[field] {
			changes = append(changes, FieldChange{
				Field:    field,
				OldValue: oldFields[field],
				NewValue: freshFields[field],
			})
		}
	}
	return changes
}

// summary is the compact per-kind counts carried in change notifications.
type diffCounts struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
}

type diffSummary struct {
	Counts  map[tabular.Kind]diffCounts `json:"counts"`
	Details DiffResult                  `json:"details"`
}

func summarize(result DiffResult) diffSummary {
	counts := make(map[tabular.Kind]diffCounts, len(result))
	details := make(DiffResult, len(result))
	for kind, diff := range result {
		if diff.Empty() {
			continue
		}
		counts[kind] = diffCounts{
			Added:    len(diff.Added),
			Modified: len(diff.Modified),
			Deleted:  len(diff.Deleted),
		}
		details[kind] = diff
	}
	return diffSummary{Counts: counts, Details: details}
}
