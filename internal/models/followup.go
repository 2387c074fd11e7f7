package models

type FollowUp struct {
	BaseModel
	LeadID   uint    `json:"leadID" gorm:"not null;index"`
	Notes    string  `json:"notes" gorm:"type:text;not null;default:''"`
	FileKey  *string `json:"-" gorm:"type:text"`
	FileName *string `json:"fileName,omitempty" gorm:"type:varchar(255)"`
}

func (f *FollowUp) HasFile() bool {
	return f.FileKey != nil && *f.FileKey != ""
}
