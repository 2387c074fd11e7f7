package models

import (
	"time"

	"gorm.io/datatypes"
)

type FieldType string

const (
	FieldTypeText   FieldType = "text"
	FieldTypeNumber FieldType = "number"
	FieldTypeDate   FieldType = "date"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeText, FieldTypeNumber, FieldTypeDate:
		return true
	default:
		return false
	}
}

// CaseField is a custom lead attribute declared by one organisation.
type CaseField struct {
	BaseModel
	Name           string    `json:"name" gorm:"type:varchar(100);not null;uniqueIndex:idx_casefield_name_org"`
	FieldType      FieldType `json:"fieldType" gorm:"type:varchar(20);not null"`
	OrganisationID uint      `json:"organisationID" gorm:"not null;uniqueIndex:idx_casefield_name_org"`
}

// CaseValue holds the value of one CaseField for one Lead. Only the column
// matching the field type is ever non-null.
type CaseValue struct {
	BaseModel
	LeadID      uint            `json:"leadID" gorm:"not null;uniqueIndex:idx_casevalue_lead_field"`
	FieldID     uint            `json:"fieldID" gorm:"not null;uniqueIndex:idx_casevalue_lead_field;index"`
	Field       *CaseField      `json:"field,omitempty" gorm:"foreignKey:FieldID"`
	ValueText   *string         `json:"valueText" gorm:"type:varchar(255)"`
	ValueNumber *int64          `json:"valueNumber"`
	ValueDate   *datatypes.Date `json:"valueDate"`
}

// Normalize clears every column that does not belong to fieldType.
func (v *CaseValue) Normalize(fieldType FieldType) {
	switch fieldType {
	case FieldTypeText:
		v.ValueNumber = nil
		v.ValueDate = nil
	case FieldTypeNumber:
		v.ValueText = nil
		v.ValueDate = nil
	case FieldTypeDate:
		v.ValueText = nil
		v.ValueNumber = nil
	}
}

// Value returns the populated column as a plain Go value: string, int64,
// a YYYY-MM-DD string, or nil.
func (v *CaseValue) Value(fieldType FieldType) any {
	switch fieldType {
	case FieldTypeText:
		if v.ValueText != nil {
			return *v.ValueText
		}
	case FieldTypeNumber:
		if v.ValueNumber != nil {
			return *v.ValueNumber
		}
	case FieldTypeDate:
		if v.ValueDate != nil {
			return time.Time(*v.ValueDate).Format(DateLayout)
		}
	}
	return nil
}

const DateLayout = "2006-01-02"
