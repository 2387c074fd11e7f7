package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/pkg/logger"
	"gorm.io/gorm"
)

// TransitionRequest asks for TargetID to move to NewTier. SupervisorID
// optionally chooses who an agent or manager reports to afterwards.
type TransitionRequest struct {
	TargetID     uint
	NewTier      models.Tier
	SupervisorID *uint
}

// TierService owns every tier change and the row migrations it implies.
// A transition is applied entirely or not at all.
type TierService struct {
	DB *gorm.DB
}

func NewTierService(db *gorm.DB) *TierService {
	return &TierService{DB: db}
}

// WithTx returns a TierService whose transitions join tx, so a caller can
// apply a transition together with its own writes.
func (s *TierService) WithTx(tx *gorm.DB) *TierService {
	return &TierService{DB: tx}
}

func (s *TierService) Transition(ctx context.Context, actor *models.User, req TransitionRequest) (*models.User, error) {
	if actor == nil {
		return nil, ErrForbidden
	}
	if !req.NewTier.Valid() || req.NewTier == models.TierSuperAdmin {
		return nil, fmt.Errorf("%w: cannot move to %q", ErrInvalidTransition, req.NewTier)
	}

	var target models.User
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&target, req.TargetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if target.Tier == models.TierSuperAdmin || target.ID == actor.ID {
			return fmt.Errorf("%w: %s cannot be changed", ErrInvalidTransition, target.Username)
		}
		if err := authorizeTransition(tx, actor, &target, req); err != nil {
			return err
		}

		from := target.Tier
		switch {
		case from.Supervised() && req.NewTier == models.TierOrganiser:
			return promote(tx, &target)
		case from == models.TierOrganiser && req.NewTier.Supervised():
			return demote(tx, actor, &target, req.NewTier, req.SupervisorID)
		case from.Supervised() && req.NewTier.Supervised():
			if err := tx.Model(&target).Update("tier", req.NewTier).Error; err != nil {
				return err
			}
			if req.SupervisorID != nil {
				return reparent(tx, &target, *req.SupervisorID)
			}
			return nil
		default:
			return nil
		}
	})
	if err != nil {
		logger.WarnWithUser(actor.ID, "tier_transition_failed", map[string]interface{}{
			"target_id": req.TargetID,
			"new_tier":  req.NewTier,
			"error":     err.Error(),
		})
		return nil, err
	}

	if err := s.DB.WithContext(ctx).First(&target, req.TargetID).Error; err != nil {
		return nil, err
	}
	logger.InfoWithUser(actor.ID, "tier_transition_completed", map[string]interface{}{
		"target_id": target.ID,
		"tier":      target.Tier,
	})
	return &target, nil
}

// authorizeTransition lets super admins change anyone below them and lets an
// organiser switch its own subordinates between agent and manager.
func authorizeTransition(tx *gorm.DB, actor, target *models.User, req TransitionRequest) error {
	switch actor.Tier {
	case models.TierSuperAdmin:
		return nil
	case models.TierOrganiser:
		if !target.Tier.Supervised() || !req.NewTier.Supervised() {
			return ErrForbidden
		}
		if req.SupervisorID != nil && *req.SupervisorID != actor.ID {
			return ErrForbidden
		}
		var count int64
		if err := tx.Model(&models.SupervisionEdge{}).
			Where("user_id = ? AND supervisor_id = ?", target.ID, actor.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return nil
	default:
		return ErrForbidden
	}
}

func promote(tx *gorm.DB, target *models.User) error {
	if err := tx.Where("user_id = ?", target.ID).Delete(&models.SupervisionEdge{}).Error; err != nil {
		return err
	}
	if err := tx.Where("member_id = ?", target.ID).Delete(&models.TeamMember{}).Error; err != nil {
		return err
	}

	org := models.Organisation{Name: target.Username}
	if err := tx.Create(&org).Error; err != nil {
		return err
	}

	if err := tx.Model(&models.WorkReport{}).Where("creator_id = ?", target.ID).
		Update("organisation_id", org.ID).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.Team{}).Where("leader_id = ?", target.ID).
		Update("organisation_id", org.ID).Error; err != nil {
		return err
	}

	return tx.Model(target).Updates(map[string]interface{}{
		"tier":            models.TierOrganiser,
		"organisation_id": org.ID,
	}).Error
}

func demote(tx *gorm.DB, actor, target *models.User, newTier models.Tier, supervisorID *uint) error {
	supervisor := actor
	if supervisorID != nil {
		loaded, err := loadSupervisor(tx, *supervisorID, target.ID)
		if err != nil {
			return err
		}
		supervisor = loaded
	}

	if target.OrganisationID != nil {
		dest, err := homeOrganisation(tx, actor)
		if err != nil {
			return err
		}
		if err := migrateOrganisation(tx, *target.OrganisationID, dest, target.ID, actor.ID); err != nil {
			return err
		}
	}

	oldOrg := target.OrganisationID
	if err := tx.Model(target).Updates(map[string]interface{}{
		"tier":            newTier,
		"organisation_id": nil,
	}).Error; err != nil {
		return err
	}
	if oldOrg != nil {
		if err := tx.Delete(&models.Organisation{}, *oldOrg).Error; err != nil {
			return err
		}
	}

	edge := models.SupervisionEdge{UserID: target.ID, SupervisorID: supervisor.ID}
	return tx.Create(&edge).Error
}

// migrateOrganisation moves every row of organisation from into dest and
// hands the subordinates of formerOwner over to newSupervisor.
func migrateOrganisation(tx *gorm.DB, from, dest, formerOwner, newSupervisor uint) error {
	for _, model := range []interface{}{
		&models.Lead{},
		&models.Folder{},
		&models.FolderDocument{},
		&models.WorkReport{},
		&models.Team{},
	} {
		if err := tx.Model(model).Where("organisation_id = ?", from).
			Update("organisation_id", dest).Error; err != nil {
			return err
		}
	}

	if err := mergeCaseFields(tx, from, dest); err != nil {
		return err
	}

	return tx.Model(&models.SupervisionEdge{}).Where("supervisor_id = ?", formerOwner).
		Update("supervisor_id", newSupervisor).Error
}

// mergeCaseFields moves fields into dest. A same-name field of the same
// type absorbs the moved field's values; a same-name field of another type
// forces a rename.
func mergeCaseFields(tx *gorm.DB, from, dest uint) error {
	var moving []models.CaseField
	if err := tx.Where("organisation_id = ?", from).Order("id ASC").Find(&moving).Error; err != nil {
		return err
	}

	for i := range moving {
		field := &moving[i]

		var existing models.CaseField
		err := tx.Where("organisation_id = ? AND name = ?", dest, field.Name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Model(field).Update("organisation_id", dest).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case existing.FieldType == field.FieldType:
			if err := tx.Model(&models.CaseValue{}).Where("field_id = ?", field.ID).
				Update("field_id", existing.ID).Error; err != nil {
				return err
			}
			if err := tx.Delete(field).Error; err != nil {
				return err
			}
		default:
			name, err := freeFieldName(tx, dest, field.Name+" (migrated)")
			if err != nil {
				return err
			}
			if err := tx.Model(field).Updates(map[string]interface{}{
				"name":            name,
				"organisation_id": dest,
			}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func freeFieldName(tx *gorm.DB, orgID uint, base string) (string, error) {
	name := base
	for n := 2; ; n++ {
		var count int64
		if err := tx.Model(&models.CaseField{}).
			Where("organisation_id = ? AND name = ?", orgID, name).
			Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return name, nil
		}
		name = fmt.Sprintf("%s %d", base, n)
	}
}

// homeOrganisation returns the organisation owned by actor, creating one
// for super admins that predate it.
func homeOrganisation(tx *gorm.DB, actor *models.User) (uint, error) {
	if actor.OrganisationID != nil {
		return *actor.OrganisationID, nil
	}
	org := models.Organisation{Name: actor.Username}
	if err := tx.Create(&org).Error; err != nil {
		return 0, err
	}
	if err := tx.Model(&models.User{}).Where("id = ?", actor.ID).Update("organisation_id", org.ID).Error; err != nil {
		return 0, err
	}
	actor.OrganisationID = &org.ID
	return org.ID, nil
}

func reparent(tx *gorm.DB, target *models.User, supervisorID uint) error {
	supervisor, err := loadSupervisor(tx, supervisorID, target.ID)
	if err != nil {
		return err
	}
	if err := tx.Where("user_id = ?", target.ID).Delete(&models.SupervisionEdge{}).Error; err != nil {
		return err
	}
	edge := models.SupervisionEdge{UserID: target.ID, SupervisorID: supervisor.ID}
	return tx.Create(&edge).Error
}

func loadSupervisor(tx *gorm.DB, supervisorID, targetID uint) (*models.User, error) {
	if supervisorID == targetID {
		return nil, ErrInvalidSupervisor
	}
	var supervisor models.User
	if err := tx.First(&supervisor, supervisorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidSupervisor
		}
		return nil, err
	}
	if supervisor.Tier != models.TierOrganiser && supervisor.Tier != models.TierSuperAdmin {
		return nil, ErrInvalidSupervisor
	}
	return &supervisor, nil
}
