package task

import (
	"strings"
	"time"
)

// Credential is the explicit token bundle passed into every adapter call.
type Credential struct {
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
}

// Connected reports whether an access token is present.
func (c Credential) Connected() bool {
	return strings.TrimSpace(c.AccessToken) != ""
}

// Owner is the user on whose behalf tasks run.
type Owner struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Google    Credential `json:"-"`
	HubSpot   Credential `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TimeSlot is a half-open interval [Start, End).
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open intervals intersect.
func (s TimeSlot) Overlaps(o TimeSlot) bool {
	return s.Start.Before(o.End) && s.End.After(o.Start)
}
