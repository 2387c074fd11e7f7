package services

import (
	"context"
	"errors"
	"net/mail"
	"sort"
	"strings"

	crmmail "github.com/djcrm/crm/internal/mail"
	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/pkg/logger"
	"github.com/djcrm/crm/pkg/utils"
	"gorm.io/gorm"
)

const minPasswordLength = 8

// ValidationErrors maps a request field to the problem found with it.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + v[k]
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

type ProvisionRequest struct {
	Username        string
	Email           string
	FirstName       string
	LastName        string
	Password        string
	PasswordConfirm string
	Tier            models.Tier
	SupervisorID    *uint
}

// UserService creates and removes accounts together with their supervision
// edges and organisations.
type UserService struct {
	DB         *gorm.DB
	Visibility *VisibilityService
	Mailer     crmmail.Mailer
}

func NewUserService(db *gorm.DB, visibility *VisibilityService, mailer crmmail.Mailer) *UserService {
	return &UserService{DB: db, Visibility: visibility, Mailer: mailer}
}

// Provision creates an account on behalf of actor:
// super admins may create any tier below their own, organisers create
// agents and managers reporting to themselves, managers create agents
// reporting to their own supervisor.
func (s *UserService) Provision(ctx context.Context, actor *models.User, req ProvisionRequest) (*models.User, error) {
	supervisor, err := s.resolveSupervisor(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if problems := s.validateNewUser(ctx, req); len(problems) > 0 {
		return nil, problems
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Username:     req.Username,
		Email:        req.Email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: hash,
		Tier:         req.Tier,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.Tier == models.TierOrganiser {
			org := models.Organisation{Name: user.Username}
			if err := tx.Create(&org).Error; err != nil {
				return err
			}
			user.OrganisationID = &org.ID
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if supervisor == nil {
			return nil
		}
		return tx.Create(&models.SupervisionEdge{UserID: user.ID, SupervisorID: supervisor.ID}).Error
	})
	if err != nil {
		// Lost a race against another request for the same username or email.
		if problems := s.validateNewUser(ctx, req); len(problems) > 0 {
			return nil, problems
		}
		return nil, err
	}

	logger.InfoWithUser(actor.ID, "user_provisioned", map[string]interface{}{
		"user_id": user.ID,
		"tier":    user.Tier,
	})

	if s.Mailer != nil {
		if err := s.Mailer.SendInvite(ctx, user.Email); err != nil {
			logger.ErrorWithUser(actor.ID, "user_invite_failed", err, map[string]interface{}{
				"user_id": user.ID,
			})
		}
	}

	return &user, nil
}

func (s *UserService) resolveSupervisor(ctx context.Context, actor *models.User, req ProvisionRequest) (*models.User, error) {
	if actor == nil || !req.Tier.Valid() || req.Tier == models.TierSuperAdmin {
		return nil, ValidationErrors{"tier": "is not a tier you can assign"}
	}

	switch actor.Tier {
	case models.TierSuperAdmin:
		if req.Tier == models.TierOrganiser {
			return nil, nil
		}
		if req.SupervisorID == nil {
			return actor, nil
		}
		supervisor, err := loadSupervisor(s.DB.WithContext(ctx), *req.SupervisorID, 0)
		if errors.Is(err, ErrInvalidSupervisor) {
			return nil, ValidationErrors{"supervisorID": "must be an organiser or super admin"}
		}
		return supervisor, err
	case models.TierOrganiser:
		if !req.Tier.Supervised() {
			return nil, ValidationErrors{"tier": "is not a tier you can assign"}
		}
		return actor, nil
	case models.TierManager:
		if req.Tier != models.TierAgent {
			return nil, ValidationErrors{"tier": "is not a tier you can assign"}
		}
		return s.Visibility.Supervisor(ctx, actor.ID)
	default:
		return nil, ErrForbidden
	}
}

func (s *UserService) validateNewUser(ctx context.Context, req ProvisionRequest) ValidationErrors {
	problems := ValidationErrors{}

	if req.Username == "" {
		problems["username"] = "is required"
	} else if len(req.Username) > 150 {
		problems["username"] = "must be at most 150 characters"
	}
	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		problems["email"] = "must be a valid email address"
	}
	if len(req.Password) < minPasswordLength {
		problems["password"] = "must be at least 8 characters"
	} else if req.Password != req.PasswordConfirm {
		problems["passwordConfirm"] = "passwords do not match"
	}

	db := s.DB.WithContext(ctx)
	if _, taken := problems["username"]; !taken && req.Username != "" {
		if s.exists(db, "username = ?", req.Username) {
			problems["username"] = "a user with that username already exists"
		}
	}
	if _, taken := problems["email"]; !taken {
		if s.exists(db, "LOWER(email) = ?", req.Email) {
			problems["email"] = "a user with that email already exists"
		}
	}

	return problems
}

func (s *UserService) exists(db *gorm.DB, query string, arg interface{}) bool {
	var count int64
	db.Model(&models.User{}).Where(query, arg).Count(&count)
	return count > 0
}

// CheckUnique reports username or email collisions with accounts other
// than userID.
func (s *UserService) CheckUnique(ctx context.Context, userID uint, username, email *string) ValidationErrors {
	problems := ValidationErrors{}
	db := s.DB.WithContext(ctx)
	if username != nil && s.exists(db.Where("id <> ?", userID), "username = ?", strings.TrimSpace(*username)) {
		problems["username"] = "a user with that username already exists"
	}
	if email != nil && s.exists(db.Where("id <> ?", userID), "LOWER(email) = ?", strings.ToLower(strings.TrimSpace(*email))) {
		problems["email"] = "a user with that email already exists"
	}
	return problems
}

// Delete removes an account. Organisers' organisations are handed to the
// acting super admin first. It returns the storage keys of files that
// belonged to deleted rows.
func (s *UserService) Delete(ctx context.Context, actor *models.User, targetID uint) ([]string, error) {
	var fileKeys []string

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.User
		if err := tx.First(&target, targetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if target.ID == actor.ID || target.Tier == models.TierSuperAdmin {
			return ErrForbidden
		}

		switch actor.Tier {
		case models.TierSuperAdmin:
		case models.TierOrganiser:
			var count int64
			if err := tx.Model(&models.SupervisionEdge{}).
				Where("user_id = ? AND supervisor_id = ?", target.ID, actor.ID).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
		default:
			return ErrForbidden
		}

		if target.Tier == models.TierOrganiser && target.OrganisationID != nil {
			dest, err := homeOrganisation(tx, actor)
			if err != nil {
				return err
			}
			if err := migrateOrganisation(tx, *target.OrganisationID, dest, target.ID, actor.ID); err != nil {
				return err
			}
		}

		keys, err := deleteUserRows(tx, &target)
		if err != nil {
			return err
		}
		fileKeys = keys
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.InfoWithUser(actor.ID, "user_deleted", map[string]interface{}{
		"user_id": targetID,
	})
	return fileKeys, nil
}

func deleteUserRows(tx *gorm.DB, target *models.User) ([]string, error) {
	var reports []models.WorkReport
	if err := tx.Where("creator_id = ?", target.ID).Find(&reports).Error; err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(reports))
	for _, r := range reports {
		keys = append(keys, r.FileKey)
	}

	led := tx.Session(&gorm.Session{NewDB: true}).Model(&models.Team{}).Select("id").Where("leader_id = ?", target.ID)

	steps := []func() error{
		func() error { return tx.Where("creator_id = ?", target.ID).Delete(&models.WorkReport{}).Error },
		func() error {
			return tx.Where("member_id = ? OR team_id IN (?)", target.ID, led).Delete(&models.TeamMember{}).Error
		},
		func() error { return tx.Where("leader_id = ?", target.ID).Delete(&models.Team{}).Error },
		func() error {
			return tx.Where("user_id = ? OR supervisor_id = ?", target.ID, target.ID).Delete(&models.SupervisionEdge{}).Error
		},
		func() error {
			return tx.Model(&models.Lead{}).Where("agent_id = ?", target.ID).Update("agent_id", nil).Error
		},
		func() error {
			return tx.Model(&models.Lead{}).Where("manager_id = ?", target.ID).Update("manager_id", nil).Error
		},
		func() error { return tx.Delete(&models.User{}, target.ID).Error },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	if target.OrganisationID != nil {
		if err := tx.Delete(&models.Organisation{}, *target.OrganisationID).Error; err != nil {
			return nil, err
		}
	}
	return keys, nil
}
