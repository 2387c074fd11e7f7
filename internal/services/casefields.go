package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/pkg/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxTextValueLength = 255

var ErrInvalidCaseField = errors.New("invalid case field")

// FieldSpec is one entry of an organisation's lead schema.
type FieldSpec struct {
	ID   uint             `json:"id"`
	Name string           `json:"name"`
	Type models.FieldType `json:"type"`
}

// CaseFieldService is the registry of per-organisation lead fields. Read
// paths call Schema and Values; write paths call Validate then Save.
type CaseFieldService struct {
	DB *gorm.DB
}

func NewCaseFieldService(db *gorm.DB) *CaseFieldService {
	return &CaseFieldService{DB: db}
}

// Schema lists an organisation's fields in declaration order.
func (s *CaseFieldService) Schema(ctx context.Context, orgID uint) ([]FieldSpec, error) {
	var fields []models.CaseField
	if err := s.DB.WithContext(ctx).
		Where("organisation_id = ?", orgID).
		Order("id ASC").
		Find(&fields).Error; err != nil {
		return nil, err
	}

	schema := make([]FieldSpec, len(fields))
	for i, f := range fields {
		schema[i] = FieldSpec{ID: f.ID, Name: f.Name, Type: f.FieldType}
	}
	return schema, nil
}

// Create declares a field. Declaring a name the organisation already uses
// returns the existing field with created=false and no error.
func (s *CaseFieldService) Create(ctx context.Context, orgID uint, name string, fieldType models.FieldType) (*models.CaseField, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return nil, false, fmt.Errorf("%w: name must be 1-100 characters", ErrInvalidCaseField)
	}
	if !fieldType.Valid() {
		return nil, false, fmt.Errorf("%w: unknown field type %q", ErrInvalidCaseField, fieldType)
	}

	db := s.DB.WithContext(ctx)
	if existing, err := s.find(db, orgID, name); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	field := models.CaseField{Name: name, FieldType: fieldType, OrganisationID: orgID}
	if err := db.Create(&field).Error; err != nil {
		// A concurrent insert of the same name lost the race to the
		// unique index.
		if existing, findErr := s.find(db, orgID, name); findErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}

	logger.Info("case_field_created", map[string]interface{}{
		"field_id":        field.ID,
		"organisation_id": orgID,
		"field_type":      fieldType,
	})
	return &field, true, nil
}

func (s *CaseFieldService) find(db *gorm.DB, orgID uint, name string) (*models.CaseField, error) {
	var field models.CaseField
	if err := db.Where("organisation_id = ? AND name = ?", orgID, name).First(&field).Error; err != nil {
		return nil, err
	}
	return &field, nil
}

// Delete removes a field of the organisation and every value stored for it.
func (s *CaseFieldService) Delete(ctx context.Context, orgID, fieldID uint) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var field models.CaseField
		if err := tx.Where("id = ? AND organisation_id = ?", fieldID, orgID).First(&field).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Where("field_id = ?", field.ID).Delete(&models.CaseValue{}).Error; err != nil {
			return err
		}
		return tx.Delete(&field).Error
	})
}

// Validate converts raw input keyed by field name into typed values.
// Unknown names are ignored; a null or empty input clears the value.
// Problems are reported per field name.
func Validate(schema []FieldSpec, raw map[string]any) ([]models.CaseValue, map[string]string) {
	values := make([]models.CaseValue, 0, len(raw))
	problems := map[string]string{}

	for _, spec := range schema {
		input, present := raw[spec.Name]
		if !present {
			continue
		}

		value := models.CaseValue{FieldID: spec.ID}
		if isBlank(input) {
			values = append(values, value)
			continue
		}

		switch spec.Type {
		case models.FieldTypeText:
			text, ok := input.(string)
			if !ok {
				problems[spec.Name] = "must be text"
				continue
			}
			if len(text) > maxTextValueLength {
				problems[spec.Name] = fmt.Sprintf("must be at most %d characters", maxTextValueLength)
				continue
			}
			value.ValueText = &text
		case models.FieldTypeNumber:
			number, ok := toInteger(input)
			if !ok {
				problems[spec.Name] = "must be a whole number"
				continue
			}
			value.ValueNumber = &number
		case models.FieldTypeDate:
			text, ok := input.(string)
			if !ok {
				problems[spec.Name] = "must be a date (YYYY-MM-DD)"
				continue
			}
			parsed, err := time.Parse(models.DateLayout, strings.TrimSpace(text))
			if err != nil {
				problems[spec.Name] = "must be a date (YYYY-MM-DD)"
				continue
			}
			date := datatypes.Date(parsed)
			value.ValueDate = &date
		}
		values = append(values, value)
	}

	if len(problems) > 0 {
		return nil, problems
	}
	return values, nil
}

// Save upserts values for a lead by (lead, field), writing the typed column
// and clearing the other two. Run it inside the lead's transaction.
func (s *CaseFieldService) Save(tx *gorm.DB, leadID uint, schema []FieldSpec, values []models.CaseValue) error {
	types := make(map[uint]models.FieldType, len(schema))
	for _, spec := range schema {
		types[spec.ID] = spec.Type
	}

	for _, v := range values {
		fieldType, ok := types[v.FieldID]
		if !ok {
			continue
		}

		var row models.CaseValue
		if err := tx.Where(models.CaseValue{LeadID: leadID, FieldID: v.FieldID}).FirstOrCreate(&row).Error; err != nil {
			return fmt.Errorf("upserting case value: %w", err)
		}
		row.ValueText = v.ValueText
		row.ValueNumber = v.ValueNumber
		row.ValueDate = v.ValueDate
		row.Normalize(fieldType)
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("saving case value: %w", err)
		}
	}
	return nil
}

// Values reads one lead's custom values keyed by field name. Fields without
// a stored value are present with a nil value.
func (s *CaseFieldService) Values(ctx context.Context, orgID, leadID uint) (map[string]any, error) {
	all, err := s.ValuesFor(ctx, orgID, []uint{leadID})
	if err != nil {
		return nil, err
	}
	return all[leadID], nil
}

// ValuesFor is Values for many leads of one organisation.
func (s *CaseFieldService) ValuesFor(ctx context.Context, orgID uint, leadIDs []uint) (map[uint]map[string]any, error) {
	schema, err := s.Schema(ctx, orgID)
	if err != nil {
		return nil, err
	}

	result := make(map[uint]map[string]any, len(leadIDs))
	for _, id := range leadIDs {
		row := make(map[string]any, len(schema))
		for _, spec := range schema {
			row[spec.Name] = nil
		}
		result[id] = row
	}
	if len(leadIDs) == 0 || len(schema) == 0 {
		return result, nil
	}

	byID := make(map[uint]FieldSpec, len(schema))
	fieldIDs := make([]uint, len(schema))
	for i, spec := range schema {
		byID[spec.ID] = spec
		fieldIDs[i] = spec.ID
	}

	var stored []models.CaseValue
	if err := s.DB.WithContext(ctx).
		Where("lead_id IN ? AND field_id IN ?", leadIDs, fieldIDs).
		Find(&stored).Error; err != nil {
		return nil, err
	}
	for i := range stored {
		spec := byID[stored[i].FieldID]
		result[stored[i].LeadID][spec.Name] = stored[i].Value(spec.Type)
	}
	return result, nil
}

func isBlank(input any) bool {
	if input == nil {
		return true
	}
	if s, ok := input.(string); ok && strings.TrimSpace(s) == "" {
		return true
	}
	return false
}

func toInteger(input any) (int64, bool) {
	switch v := input.(type) {
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.Abs(v) >= math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
