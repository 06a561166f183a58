package models

import "time"

// Tenant is the isolation scope every other entity is bound to.
type Tenant struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
