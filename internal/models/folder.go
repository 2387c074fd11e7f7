package models

type Folder struct {
	BaseModel
	Name           string  `json:"name" gorm:"type:varchar(255);not null"`
	ParentID       *uint   `json:"parentID,omitempty" gorm:"index"`
	Parent         *Folder `json:"-" gorm:"foreignKey:ParentID"`
	OrganisationID uint    `json:"organisationID" gorm:"not null;index"`
}

// FolderDocument is either an uploaded file or an external link. A nil
// FolderID places it at the organisation root.
type FolderDocument struct {
	BaseModel
	Title          string  `json:"title" gorm:"type:varchar(255);not null"`
	FileKey        *string `json:"-" gorm:"type:text"`
	FileName       *string `json:"fileName,omitempty" gorm:"type:varchar(255)"`
	URL            *string `json:"url,omitempty" gorm:"type:text"`
	FolderID       *uint   `json:"folderID,omitempty" gorm:"index"`
	OrganisationID uint    `json:"organisationID" gorm:"not null;index"`
}

func (d *FolderDocument) HasFile() bool {
	return d.FileKey != nil && *d.FileKey != ""
}
