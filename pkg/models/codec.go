package models

import (
	"github.com/goccy/go-json"
)

// MarshalResult serializes a batch result. Map keys are emitted sorted and
// flag sets in declaration order, so equal results encode to equal bytes.
func MarshalResult(result *BatchResult) ([]byte, error) {
	return json.Marshal(result)
}

// UnmarshalResult decodes a result produced by MarshalResult.
func UnmarshalResult(data []byte) (*BatchResult, error) {
	var result BatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func MarshalEvent(event *Event) ([]byte, error) {
	return json.Marshal(event)
}

func UnmarshalEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func MarshalSummary(summary *BatchSummary) ([]byte, error) {
	return json.Marshal(summary)
}

func UnmarshalSummary(data []byte) (*BatchSummary, error) {
	var summary BatchSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
