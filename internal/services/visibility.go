package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/djcrm/crm/internal/models"
	"gorm.io/gorm"
)

// maxSupervisionDepth bounds the walk up the supervision graph.
const maxSupervisionDepth = 16

// Action distinguishes list access from single-row access. Leads are the
// only entity where the two differ.
type Action int

const (
	ActionList Action = iota
	ActionDetail
	ActionUpdate
	ActionDelete
)

// Scope is what a requester may see: everything, nothing, or one
// organisation narrowed further per entity by the requester's tier.
type Scope struct {
	User           *models.User
	All            bool
	Empty          bool
	OrganisationID uint
}

func (s Scope) Tier() models.Tier {
	if s.User == nil {
		return ""
	}
	return s.User.Tier
}

type VisibilityService struct {
	DB *gorm.DB
}

func NewVisibilityService(db *gorm.DB) *VisibilityService {
	return &VisibilityService{DB: db}
}

// Resolve computes the scope of user. An agent or manager without a
// supervisor gets an Empty scope, not an error.
func (s *VisibilityService) Resolve(ctx context.Context, user *models.User) (Scope, error) {
	if user == nil {
		return Scope{Empty: true}, nil
	}
	if user.Tier == models.TierSuperAdmin {
		scope := Scope{User: user, All: true}
		if user.OrganisationID != nil {
			scope.OrganisationID = *user.OrganisationID
		}
		return scope, nil
	}

	orgID, found, err := s.OrganisationOf(ctx, user)
	if err != nil {
		return Scope{}, err
	}
	if !found {
		return Scope{User: user, Empty: true}, nil
	}
	return Scope{User: user, OrganisationID: orgID}, nil
}

// OrganisationOf walks the supervision graph from user up to the first
// account that owns an organisation.
func (s *VisibilityService) OrganisationOf(ctx context.Context, user *models.User) (uint, bool, error) {
	db := s.DB.WithContext(ctx)
	current := user
	visited := map[uint]bool{}

	for depth := 0; depth < maxSupervisionDepth; depth++ {
		if !current.Tier.Supervised() {
			if current.OrganisationID == nil {
				return 0, false, nil
			}
			return *current.OrganisationID, true, nil
		}
		if visited[current.ID] {
			return 0, false, nil
		}
		visited[current.ID] = true

		var edge models.SupervisionEdge
		err := db.Preload("Supervisor").Where("user_id = ?", current.ID).First(&edge).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("loading supervision edge: %w", err)
		}
		if edge.Supervisor == nil {
			return 0, false, nil
		}
		current = edge.Supervisor
	}
	return 0, false, nil
}

// Supervisor returns the direct supervisor of user, or ErrSupervisorNotFound.
func (s *VisibilityService) Supervisor(ctx context.Context, userID uint) (*models.User, error) {
	var edge models.SupervisionEdge
	err := s.DB.WithContext(ctx).Preload("Supervisor").Where("user_id = ?", userID).First(&edge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && edge.Supervisor == nil) {
		return nil, ErrSupervisorNotFound
	}
	if err != nil {
		return nil, err
	}
	return edge.Supervisor, nil
}

func none(db *gorm.DB) *gorm.DB {
	return db.Where("1 = 0")
}

func fresh(db *gorm.DB) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true})
}

// InOrganisation filters table rows to the scope organisation.
func (s Scope) InOrganisation(db *gorm.DB, table string) *gorm.DB {
	if s.All {
		return db
	}
	if s.Empty || s.User == nil {
		return none(db)
	}
	return db.Where(table+".organisation_id = ?", s.OrganisationID)
}

// Leads narrows db to the leads the requester may act on.
func (s Scope) Leads(db *gorm.DB, action Action) *gorm.DB {
	if s.All {
		return db
	}
	db = s.InOrganisation(db, "leads")
	if s.Empty || s.User == nil {
		return db
	}

	me := s.User.ID
	switch s.User.Tier {
	case models.TierOrganiser:
		return db
	case models.TierManager:
		if action == ActionList {
			return db.Where("leads.manager_id = ?", me)
		}
		return db
	case models.TierAgent:
		if action == ActionUpdate || action == ActionDelete {
			return db.Where("leads.agent_id = ?", me)
		}
		return db.Where("leads.agent_id = ? OR leads.manager_id = ?", me, me)
	default:
		return none(db)
	}
}

func (s Scope) Folders(db *gorm.DB) *gorm.DB {
	return s.InOrganisation(db, "folders")
}

func (s Scope) Documents(db *gorm.DB) *gorm.DB {
	return s.InOrganisation(db, "folder_documents")
}

func (s Scope) CaseFields(db *gorm.DB) *gorm.DB {
	return s.InOrganisation(db, "case_fields")
}

// Teams narrows db to the teams the requester manages: the whole
// organisation for organisers, led teams for managers, and teams an agent
// leads or belongs to.
func (s Scope) Teams(db *gorm.DB) *gorm.DB {
	if s.All {
		return db
	}
	db = s.InOrganisation(db, "teams")
	if s.Empty || s.User == nil {
		return db
	}

	me := s.User.ID
	switch s.User.Tier {
	case models.TierOrganiser:
		return db
	case models.TierManager:
		return db.Where("teams.leader_id = ?", me)
	case models.TierAgent:
		memberOf := fresh(db).Model(&models.TeamMember{}).Select("team_id").Where("member_id = ?", me)
		return db.Where("teams.leader_id = ? OR teams.id IN (?)", me, memberOf)
	default:
		return none(db)
	}
}

// ReportTeams is the set of teams shown on performance reports: every team
// of the requester's organisation.
func (s Scope) ReportTeams(db *gorm.DB) *gorm.DB {
	return s.InOrganisation(db, "teams")
}

// WorkReports narrows db to visible work reports. Lists for agents and
// managers only show colleagues from their teams; single reports are
// visible across the organisation.
func (s Scope) WorkReports(db *gorm.DB, action Action) *gorm.DB {
	if s.All {
		return db
	}
	db = s.InOrganisation(db, "work_reports")
	if s.Empty || s.User == nil || action != ActionList {
		return db
	}

	me := s.User.ID
	switch s.User.Tier {
	case models.TierOrganiser:
		return db
	case models.TierManager:
		led := fresh(db).Model(&models.Team{}).Select("id").Where("leader_id = ?", me)
		members := fresh(db).Model(&models.TeamMember{}).Select("member_id").Where("team_id IN (?)", led)
		return db.Where("work_reports.creator_id = ? OR work_reports.creator_id IN (?)", me, members)
	case models.TierAgent:
		mine := fresh(db).Model(&models.TeamMember{}).Select("team_id").Where("member_id = ?", me)
		members := fresh(db).Model(&models.TeamMember{}).Select("member_id").Where("team_id IN (?)", mine)
		leaders := fresh(db).Model(&models.Team{}).Select("leader_id").Where("id IN (?)", mine)
		return db.Where(
			"work_reports.creator_id = ? OR work_reports.creator_id IN (?) OR work_reports.creator_id IN (?)",
			me, members, leaders,
		)
	default:
		return none(db)
	}
}

// Users narrows db to the accounts of the requester's organisation: its
// owner and everyone supervised by the owner.
func (s Scope) Users(db *gorm.DB) *gorm.DB {
	if s.All {
		return db
	}
	if s.Empty || s.User == nil {
		return none(db)
	}
	owners := fresh(db).Model(&models.User{}).Select("id").Where("organisation_id = ?", s.OrganisationID)
	supervised := fresh(db).Model(&models.SupervisionEdge{}).Select("user_id").Where("supervisor_id IN (?)", owners)
	return db.Where("users.organisation_id = ? OR users.id IN (?)", s.OrganisationID, supervised)
}
