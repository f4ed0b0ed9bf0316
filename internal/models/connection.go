package models

type Role string

const (
	RolePatient  Role = "patient"
	RoleHospital Role = "hospital"
	RoleAdmin    Role = "admin"
)

func (r Role) IsValid() bool {
	return r == RolePatient || r == RoleHospital || r == RoleAdmin
}
