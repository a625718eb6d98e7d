package handlers

import (
	"bytes"
	"encoding/json"
)

// jsonRows decodes working-hour rows from either `[...]` or
// `{"working_hours": [...]}`.
type jsonRows []workingHourRequest

func (j *jsonRows) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			WorkingHours []workingHourRequest `json:"working_hours"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return err
		}
		*j = wrapped.WorkingHours
		return nil
	}
	var rows []workingHourRequest
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	*j = rows
	return nil
}
