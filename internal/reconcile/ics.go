package reconcile

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
)

// WriteICS renders the merged event view as an iCalendar feed so tenants can
// subscribe to their reconciled schedule from any calendar application.
func WriteICS(w io.Writer, events []MergedEvent, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//booking-engine//EN")

	for _, event := range events {
		ve := ical.NewComponent(ical.CompEvent)
		ve.Props.SetText(ical.PropUID, icsUID(event))
		ve.Props.SetText(ical.PropSummary, event.Title)
		ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
		ve.Props.SetDateTime(ical.PropDateTimeStart, event.Start)
		ve.Props.SetDateTime(ical.PropDateTimeEnd, event.End)
		if event.Description != "" {
			ve.Props.SetText(ical.PropDescription, event.Description)
		}
		cal.Children = append(cal.Children, ve)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

func icsUID(event MergedEvent) string {
	if event.ExternalID != "" {
		return event.ExternalID
	}
	return event.ID
}
