package catalog

import "time"

// Card is a catalog row. The effect description is the durable source of
// truth for chance-based effects; resolution re-parses it on demand, so the
// same description and identifiers always produce the same outcome.
type Card struct {
	ID          int64     `json:"id"`          // Primary key
	Title       string    `json:"title"`       // Display name
	Description string    `json:"description"` // Free-text effect, authored per card
	BasePoints  int       `json:"base_points"` // Printed point value
	CreatedAt   time.Time `json:"created_at"`  // Timestamp
	UpdatedAt   time.Time `json:"updated_at"`  // Timestamp
}
