package models

// Unit is a field official that can be dispatched, as seen through the
// user directory.
type Unit struct {
	ID           string `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	Phone        string `json:"phone" db:"phone"`
	DepartmentID string `json:"department_id" db:"department_id"`
	Department   string `json:"department" db:"department_name"`
}

// UnitLocation is the single live position row per unit. It also owns the
// unit's availability flag.
type UnitLocation struct {
	UnitID    string     `json:"unit_id" db:"official_id"`
	Position  Coordinate `json:"position"`
	Available bool       `json:"available" db:"is_available"`
	UpdatedAt int64      `json:"updated_at" db:"updated_at"`
}

// UnitStatus is the dashboard view of a unit.
type UnitStatus struct {
	Unit
	Location *UnitLocation `json:"location,omitempty"`
}
