package models

type WorkReport struct {
	BaseModel
	Title          string `json:"title" gorm:"type:varchar(255);not null"`
	FileKey        string `json:"-" gorm:"type:text;not null"`
	FileName       string `json:"fileName" gorm:"type:varchar(255);not null"`
	OrganisationID uint   `json:"organisationID" gorm:"not null;index"`
	CreatorID      uint   `json:"creatorID" gorm:"not null;index"`
	Creator        *User  `json:"creator,omitempty" gorm:"foreignKey:CreatorID"`
}
