package models

// Organisation is the tenancy boundary. It is owned by one organiser (or the
// super admin's home organisation) through users.organisation_id.
type Organisation struct {
	BaseModel
	Name string `json:"name" gorm:"type:varchar(255);not null"`
}
