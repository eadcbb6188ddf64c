package restaurants

import "time"

// Restaurant is the part of a restaurant record the tracking core reads and toggles.
type Restaurant struct {
	ID        string
	OwnerID   string // user id of the operating restaurant admin
	Name      string
	IsOpen    bool
	Approved  bool // set by a superadmin; unapproved restaurants cannot open
	UpdatedAt time.Time
}
