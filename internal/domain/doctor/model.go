package doctor

import (
	"github.com/google/uuid"
)

// Summary is the projection of a doctor used by booking: identity, display
// name and the consultation fee in the smallest currency unit.
type Summary struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Specialty string    `db:"specialty" json:"specialty"`
	Fee       int64     `db:"consultation_fee" json:"consultation_fee"`
}
