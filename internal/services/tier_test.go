package services

import (
	"context"
	"errors"
	"testing"

	"github.com/djcrm/crm/internal/models"
	"gorm.io/gorm"
)

func countWhere(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return count
}

func reloadUser(t *testing.T, db *gorm.DB, id uint) *models.User {
	t.Helper()
	var user models.User
	if err := db.First(&user, id).Error; err != nil {
		t.Fatalf("failed reloading user %d: %v", id, err)
	}
	return &user
}

func supervisorOf(t *testing.T, db *gorm.DB, id uint) uint {
	t.Helper()
	var edge models.SupervisionEdge
	if err := db.Where("user_id = ?", id).First(&edge).Error; err != nil {
		t.Fatalf("no supervision edge for %d: %v", id, err)
	}
	return edge.SupervisorID
}

func TestTierTransition_DemoteOrganiserMovesEverything(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	admin := createUser(t, db, "admin", models.TierSuperAdmin, nil)
	owner := createUser(t, db, "owner", models.TierOrganiser, nil)
	agent := createUser(t, db, "agent", models.TierAgent, owner)
	oldOrg := orgOf(owner)
	home := orgOf(admin)

	lead := createLead(t, db, oldOrg, "Moved", agent, nil)
	folder := models.Folder{Name: "Contracts", OrganisationID: oldOrg}
	if err := db.Create(&folder).Error; err != nil {
		t.Fatalf("failed creating folder: %v", err)
	}
	doc := models.FolderDocument{Title: "Doc", FolderID: &folder.ID, OrganisationID: oldOrg}
	if err := db.Create(&doc).Error; err != nil {
		t.Fatalf("failed creating document: %v", err)
	}
	team := models.Team{Name: "Owners", LeaderID: owner.ID, OrganisationID: oldOrg}
	if err := db.Create(&team).Error; err != nil {
		t.Fatalf("failed creating team: %v", err)
	}

	fields := NewCaseFieldService(db)
	adminBudget, _, _ := fields.Create(ctx, home, "Budget", models.FieldTypeNumber)
	fields.Create(ctx, home, "Due", models.FieldTypeDate)
	ownerBudget, _, _ := fields.Create(ctx, oldOrg, "Budget", models.FieldTypeNumber)
	fields.Create(ctx, oldOrg, "Due", models.FieldTypeText)
	fields.Create(ctx, oldOrg, "Stage", models.FieldTypeText)

	budget := int64(500)
	if err := fields.Save(db, lead.ID, []FieldSpec{{ID: ownerBudget.ID, Name: "Budget", Type: models.FieldTypeNumber}},
		[]models.CaseValue{{FieldID: ownerBudget.ID, ValueNumber: &budget}}); err != nil {
		t.Fatalf("failed saving value: %v", err)
	}

	updated, err := NewTierService(db).Transition(ctx, admin, TransitionRequest{TargetID: owner.ID, NewTier: models.TierAgent})
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if updated.Tier != models.TierAgent || updated.OrganisationID != nil {
		t.Fatalf("unexpected user after demotion: %+v", updated)
	}

	for name, model := range map[string]interface{}{
		"leads":       &models.Lead{},
		"folders":     &models.Folder{},
		"documents":   &models.FolderDocument{},
		"teams":       &models.Team{},
		"case_fields": &models.CaseField{},
	} {
		if n := countWhere(t, db, model, "organisation_id = ?", oldOrg); n != 0 {
			t.Errorf("%s: %d rows still reference the old organisation", name, n)
		}
	}
	if n := countWhere(t, db, &models.Organisation{}, "id = ?", oldOrg); n != 0 {
		t.Fatalf("old organisation should be deleted")
	}
	if n := countWhere(t, db, &models.Lead{}, "organisation_id = ?", home); n != 1 {
		t.Fatalf("expected lead in home organisation, got %d", n)
	}

	t.Run("case fields merged", func(t *testing.T) {
		var names []string
		db.Model(&models.CaseField{}).Where("organisation_id = ?", home).Order("name ASC").Pluck("name", &names)
		want := []string{"Budget", "Due", "Due (migrated)", "Stage"}
		if !equalStrings(names, want) {
			t.Fatalf("got %v, want %v", names, want)
		}

		var value models.CaseValue
		if err := db.Where("lead_id = ?", lead.ID).First(&value).Error; err != nil {
			t.Fatalf("case value lost: %v", err)
		}
		if value.FieldID != adminBudget.ID || value.ValueNumber == nil || *value.ValueNumber != 500 {
			t.Fatalf("value not repointed: %+v", value)
		}
	})

	t.Run("supervision rewired", func(t *testing.T) {
		if got := supervisorOf(t, db, owner.ID); got != admin.ID {
			t.Fatalf("demoted user reports to %d, want %d", got, admin.ID)
		}
		if got := supervisorOf(t, db, agent.ID); got != admin.ID {
			t.Fatalf("former subordinate reports to %d, want %d", got, admin.ID)
		}
	})
}

func TestTierTransition_DemoteWithExplicitSupervisor(t *testing.T) {
	db := setupTestDB(t)
	admin := createUser(t, db, "admin", models.TierSuperAdmin, nil)
	owner := createUser(t, db, "owner", models.TierOrganiser, nil)
	other := createUser(t, db, "other", models.TierOrganiser, nil)

	_, err := NewTierService(db).Transition(context.Background(), admin, TransitionRequest{
		TargetID:     owner.ID,
		NewTier:      models.TierManager,
		SupervisorID: &other.ID,
	})
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if got := supervisorOf(t, db, owner.ID); got != other.ID {
		t.Fatalf("supervisor = %d, want %d", got, other.ID)
	}
	if got := reloadUser(t, db, owner.ID); got.Tier != models.TierManager {
		t.Fatalf("tier = %s", got.Tier)
	}
}

func TestTierTransition_FailureLeavesStateUntouched(t *testing.T) {
	db := setupTestDB(t)
	admin := createUser(t, db, "admin", models.TierSuperAdmin, nil)
	owner := createUser(t, db, "owner", models.TierOrganiser, nil)
	agent := createUser(t, db, "agent", models.TierAgent, owner)
	createLead(t, db, orgOf(owner), "Stays", nil, nil)

	_, err := NewTierService(db).Transition(context.Background(), admin, TransitionRequest{
		TargetID:     owner.ID,
		NewTier:      models.TierAgent,
		SupervisorID: &agent.ID,
	})
	if !errors.Is(err, ErrInvalidSupervisor) {
		t.Fatalf("expected ErrInvalidSupervisor, got %v", err)
	}

	got := reloadUser(t, db, owner.ID)
	if got.Tier != models.TierOrganiser || got.OrganisationID == nil || *got.OrganisationID != orgOf(owner) {
		t.Fatalf("owner changed: %+v", got)
	}
	if n := countWhere(t, db, &models.Lead{}, "organisation_id = ?", orgOf(owner)); n != 1 {
		t.Fatalf("lead moved despite failure")
	}
}

func TestTierTransition_WithTxJoinsCallerWrites(t *testing.T) {
	db := setupTestDB(t)
	owner := createUser(t, db, "owner", models.TierOrganiser, nil)
	agent := createUser(t, db, "agent", models.TierAgent, owner)
	tiers := NewTierService(db)

	editAndSwitch := func(firstName string, tier models.Tier) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.User{}).Where("id = ?", agent.ID).Update("first_name", firstName).Error; err != nil {
				return err
			}
			_, err := tiers.WithTx(tx).Transition(context.Background(), owner, TransitionRequest{TargetID: agent.ID, NewTier: tier})
			return err
		})
	}

	t.Run("a rejected transition rolls back the profile edit", func(t *testing.T) {
		if err := editAndSwitch("Renamed", models.TierOrganiser); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		got := reloadUser(t, db, agent.ID)
		if got.FirstName == "Renamed" || got.Tier != models.TierAgent {
			t.Fatalf("expected agent untouched, got %+v", got)
		}
	})

	t.Run("an accepted transition commits both", func(t *testing.T) {
		if err := editAndSwitch("Promoted", models.TierManager); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := reloadUser(t, db, agent.ID)
		if got.FirstName != "Promoted" || got.Tier != models.TierManager {
			t.Fatalf("expected both changes, got %+v", got)
		}
	})
}

func TestTierTransition_Promote(t *testing.T) {
	db := setupTestDB(t)
	admin := createUser(t, db, "admin", models.TierSuperAdmin, nil)
	owner := createUser(t, db, "owner", models.TierOrganiser, nil)
	manager := createUser(t, db, "manager", models.TierManager, owner)
	lead := createLead(t, db, orgOf(owner), "Kept", nil, manager)

	team := models.Team{Name: "Led", LeaderID: manager.ID, OrganisationID: orgOf(owner)}
	other := models.Team{Name: "Joined", LeaderID: owner.ID, OrganisationID: orgOf(owner)}
	db.Create(&team)
	db.Create(&other)
	db.Create(&models.TeamMember{TeamID: other.ID, MemberID: manager.ID})
	report := models.WorkReport{Title: "Weekly", FileKey: "k", FileName: "w.pdf", OrganisationID: orgOf(owner), CreatorID: manager.ID}
	db.Create(&report)

	updated, err := NewTierService(db).Transition(context.Background(), admin, TransitionRequest{
		TargetID: manager.ID,
		NewTier:  models.TierOrganiser,
	})
	if err != nil {
		t.Fatalf("promotion failed: %v", err)
	}
	if updated.Tier != models.TierOrganiser || updated.OrganisationID == nil {
		t.Fatalf("unexpected promoted user: %+v", updated)
	}
	newOrg := *updated.OrganisationID
	if newOrg == orgOf(owner) {
		t.Fatalf("promoted user must own a new organisation")
	}

	if n := countWhere(t, db, &models.SupervisionEdge{}, "user_id = ?", manager.ID); n != 0 {
		t.Fatalf("promoted user still supervised")
	}
	if n := countWhere(t, db, &models.TeamMember{}, "member_id = ?", manager.ID); n != 0 {
		t.Fatalf("promoted user still a team member")
	}
	if n := countWhere(t, db, &models.WorkReport{}, "id = ? AND organisation_id = ?", report.ID, newOrg); n != 1 {
		t.Fatalf("work report not moved")
	}
	if n := countWhere(t, db, &models.Team{}, "id = ? AND organisation_id = ?", team.ID, newOrg); n != 1 {
		t.Fatalf("led team not moved")
	}
	if n := countWhere(t, db, &models.Lead{}, "id = ? AND organisation_id = ?", lead.ID, orgOf(owner)); n != 1 {
		t.Fatalf("lead should stay in the old organisation")
	}
}

func TestTierTransition_SwitchAgentAndManager(t *testing.T) {
	db := setupTestDB(t)
	owner := createUser(t, db, "owner", models.TierOrganiser, nil)
	agent := createUser(t, db, "agent", models.TierAgent, owner)
	lead := createLead(t, db, orgOf(owner), "Assigned", agent, nil)
	svc := NewTierService(db)

	updated, err := svc.Transition(context.Background(), owner, TransitionRequest{TargetID: agent.ID, NewTier: models.TierManager})
	if err != nil {
		t.Fatalf("switch failed: %v", err)
	}
	if updated.Tier != models.TierManager {
		t.Fatalf("tier = %s", updated.Tier)
	}
	if got := supervisorOf(t, db, agent.ID); got != owner.ID {
		t.Fatalf("supervisor changed to %d", got)
	}
	if n := countWhere(t, db, &models.Lead{}, "id = ? AND agent_id = ?", lead.ID, agent.ID); n != 1 {
		t.Fatalf("lead assignment changed")
	}

	if _, err := svc.Transition(context.Background(), owner, TransitionRequest{TargetID: agent.ID, NewTier: models.TierAgent}); err != nil {
		t.Fatalf("switch back failed: %v", err)
	}
}

func TestTierTransition_Rejections(t *testing.T) {
	db := setupTestDB(t)
	admin := createUser(t, db, "admin", models.TierSuperAdmin, nil)
	owner := createUser(t, db, "owner", models.TierOrganiser, nil)
	other := createUser(t, db, "other", models.TierOrganiser, nil)
	manager := createUser(t, db, "manager", models.TierManager, owner)
	agent := createUser(t, db, "agent", models.TierAgent, owner)
	svc := NewTierService(db)

	tests := []struct {
		name  string
		actor *models.User
		req   TransitionRequest
		want  error
	}{
		{"nobody becomes super admin", admin, TransitionRequest{TargetID: owner.ID, NewTier: models.TierSuperAdmin}, ErrInvalidTransition},
		{"super admin is fixed", owner, TransitionRequest{TargetID: admin.ID, NewTier: models.TierAgent}, ErrInvalidTransition},
		{"no self transition", owner, TransitionRequest{TargetID: owner.ID, NewTier: models.TierAgent}, ErrInvalidTransition},
		{"managers cannot change tiers", manager, TransitionRequest{TargetID: agent.ID, NewTier: models.TierManager}, ErrForbidden},
		{"organisers cannot promote", owner, TransitionRequest{TargetID: agent.ID, NewTier: models.TierOrganiser}, ErrForbidden},
		{"organisers only touch their own users", other, TransitionRequest{TargetID: agent.ID, NewTier: models.TierManager}, ErrNotFound},
		{"unknown target", admin, TransitionRequest{TargetID: 9999, NewTier: models.TierAgent}, ErrNotFound},
		{"unknown tier", admin, TransitionRequest{TargetID: agent.ID, NewTier: "boss"}, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Transition(context.Background(), tt.actor, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}
