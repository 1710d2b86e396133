package models

const (
	RoleSuperAdmin    = "SUPER_ADMIN"
	RoleDeptAdmin     = "DEPT_ADMIN"
	RoleFieldOfficial = "FIELD_OFFICIAL"
	RoleCitizen       = "CITIZEN"
)

type User struct {
	ID           string  `json:"id" db:"id"`
	Phone        string  `json:"phone" db:"phone"`
	Password     string  `json:"-" db:"password"` // Never return password in JSON
	Name         string  `json:"name" db:"name"`
	Role         string  `json:"role" db:"role"`
	DepartmentID *string `json:"department_id,omitempty" db:"department_id"`
	CreatedAt    int64   `json:"created_at" db:"created_at"`
	UpdatedAt    int64   `json:"updated_at" db:"updated_at"`
}

type UserResponse struct {
	ID           string  `json:"id"`
	Phone        string  `json:"phone"`
	Name         string  `json:"name"`
	Role         string  `json:"role"`
	DepartmentID *string `json:"department_id,omitempty"`
	CreatedAt    int64   `json:"created_at"`
}

func (u *User) ToUserResponse() UserResponse {
	return UserResponse{
		ID:           u.ID,
		Phone:        u.Phone,
		Name:         u.Name,
		Role:         u.Role,
		DepartmentID: u.DepartmentID,
		CreatedAt:    u.CreatedAt,
	}
}

// Department groups field officials; its office is the default starting
// point for new units.
type Department struct {
	ID              string  `json:"id" db:"id"`
	Name            string  `json:"name" db:"name"`
	Description     string  `json:"description" db:"description"`
	OfficeLatitude  float64 `json:"office_latitude" db:"office_latitude"`
	OfficeLongitude float64 `json:"office_longitude" db:"office_longitude"`
}
