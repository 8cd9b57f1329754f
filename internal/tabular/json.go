package tabular

import (
	"bytes"
	"encoding/json"
)

// DecodeJSONRecord parses an API submission body into the typed record for
// the given kind. Unknown fields are rejected so a misspelled field fails
// loudly instead of silently writing a zero cell.
func DecodeJSONRecord(kind Kind, data []byte) (Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	switch kind {
	case KindStory:
		var story Story
		if err := dec.Decode(&story); err != nil {
			return nil, err
		}
		return story, nil
	case KindDonation:
		var donation Donation
		if err := dec.Decode(&donation); err != nil {
			return nil, err
		}
		return donation, nil
	case KindCollaboration:
		var collaboration Collaboration
		if err := dec.Decode(&collaboration); err != nil {
			return nil, err
		}
		return collaboration, nil
	default:
		var update StatusUpdate
		if err := dec.Decode(&update); err != nil {
			return nil, err
		}
		return update, nil
	}
}
