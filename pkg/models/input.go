package models

import (
	"errors"
	"time"
)

// EventInput is the wire shape accepted at the ingestion boundary. Pointer
// fields distinguish "absent" from zero so missing coordinates are rejected
// instead of landing on (0, 0).
type EventInput struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	Timestamp      *time.Time `json:"timestamp"`
	EventType      string     `json:"event_type"`
	Verified       bool       `json:"verified"`
	Intensity      *float64   `json:"intensity"`
	SourceURL      *string    `json:"source_url"`
	SourcePlatform *string    `json:"source_platform"`
}

// ToRawEvent validates the input and returns the normalized RawEvent.
// ID is zero for new records; errors then name the record by its position
// in the batch.
func (in *EventInput) ToRawEvent(pos int) (RawEvent, error) {
	if in.Latitude == nil || in.Longitude == nil {
		return RawEvent{}, in.invalid(pos, "missing coordinates")
	}
	ev := RawEvent{
		ID:             in.ID,
		Title:          in.Title,
		Description:    in.Description,
		Latitude:       *in.Latitude,
		Longitude:      *in.Longitude,
		Timestamp:      in.Timestamp,
		EventType:      EventType(in.EventType),
		Verified:       in.Verified,
		SourceURL:      in.SourceURL,
		SourcePlatform: in.SourcePlatform,
	}
	if in.Intensity != nil {
		ev.Intensity = *in.Intensity
	}
	ev.Normalize()
	if err := ev.Validate(); err != nil {
		var e *Error
		if in.ID == 0 && errors.As(err, &e) {
			return RawEvent{}, in.invalid(pos, e.Msg)
		}
		return RawEvent{}, err
	}
	return ev, nil
}

func (in *EventInput) invalid(pos int, msg string) error {
	if in.ID != 0 {
		return InvalidInput(in.ID, "%s", msg)
	}
	return InvalidInput(0, "record %d: %s", pos, msg)
}
