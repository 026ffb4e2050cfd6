package resilience

import (
	"time"
)

// ReviewEntry is an event that failed entity resolution and is parked for
// manual linking. Events here are never dropped and never guessed at.
type ReviewEntry struct {
	ID        string    `json:"id"`
	NewsID    string    `json:"news_id"`
	Mention   string    `json:"mention"`
	Kind      string    `json:"kind"` // "player" or "club"
	Reason    string    `json:"reason"`
	Error     string    `json:"error"`
	ErrorType string    `json:"error_type"` // "transient" or "permanent"
	CreatedAt time.Time `json:"created_at"`
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
