package chat

import (
	"time"

	"github.com/anteros-labs/domus/internal/domain"
)

// SenderRun is a run of consecutive messages from one sender inside a day,
// so a renderer can show the avatar once per run. System messages always
// stand alone.
type SenderRun struct {
	Sender   domain.UserSummary
	System   bool
	Messages []domain.Message
}

// DaySection groups runs under one calendar-day separator.
type DaySection struct {
	Date time.Time // midnight, local
	Runs []SenderRun
}

// Grouped derives the presentation view of an ordered history: date
// separators, then sender runs. Pure function of its input; it never touches
// stored order.
func Grouped(msgs []domain.Message) []DaySection {
	var sections []DaySection

	for _, m := range msgs {
		day := m.CreatedAt.Local()
		day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())

		if len(sections) == 0 || !sections[len(sections)-1].Date.Equal(day) {
			sections = append(sections, DaySection{Date: day})
		}
		sec := &sections[len(sections)-1]

		if n := len(sec.Runs); n > 0 {
			run := &sec.Runs[n-1]
			if !run.System && !m.System && run.Sender.ID == m.Sender.ID {
				run.Messages = append(run.Messages, m)
				continue
			}
		}
		sec.Runs = append(sec.Runs, SenderRun{
			Sender:   m.Sender,
			System:   m.System,
			Messages: []domain.Message{m},
		})
	}

	return sections
}
