package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/pkg/logger"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var loggerOnce sync.Once

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	loggerOnce.Do(logger.Init)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{NowFunc: func() time.Time {
		return time.Now().UTC()
	}})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}
	return db
}

// createUser inserts a user of tier. Organisers and super admins get their
// own organisation; agents and managers get an edge to supervisor when one
// is given.
func createUser(t *testing.T, db *gorm.DB, username string, tier models.Tier, supervisor *models.User) *models.User {
	t.Helper()

	user := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		Tier:         tier,
	}
	if !tier.Supervised() {
		org := models.Organisation{Name: username}
		if err := db.Create(&org).Error; err != nil {
			t.Fatalf("failed creating organisation: %v", err)
		}
		user.OrganisationID = &org.ID
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user %s: %v", username, err)
	}
	if supervisor != nil {
		edge := models.SupervisionEdge{UserID: user.ID, SupervisorID: supervisor.ID}
		if err := db.Create(&edge).Error; err != nil {
			t.Fatalf("failed creating supervision edge: %v", err)
		}
	}
	return user
}

func createLead(t *testing.T, db *gorm.DB, orgID uint, first string, agent, manager *models.User) *models.Lead {
	t.Helper()

	lead := &models.Lead{
		FirstName:      first,
		LastName:       "Doe",
		Status:         models.LeadStatusInProgress,
		OrganisationID: orgID,
	}
	if agent != nil {
		lead.AgentID = &agent.ID
	}
	if manager != nil {
		lead.ManagerID = &manager.ID
	}
	if err := db.Create(lead).Error; err != nil {
		t.Fatalf("failed creating lead: %v", err)
	}
	return lead
}

func orgOf(u *models.User) uint {
	return *u.OrganisationID
}

func resolveScope(t *testing.T, db *gorm.DB, user *models.User) Scope {
	t.Helper()
	scope, err := NewVisibilityService(db).Resolve(context.Background(), user)
	if err != nil {
		t.Fatalf("resolve failed for %s: %v", user.Username, err)
	}
	return scope
}

func leadNames(t *testing.T, db *gorm.DB, scope Scope, action Action) []string {
	t.Helper()
	var leads []models.Lead
	if err := scope.Leads(db.Model(&models.Lead{}), action).Order("leads.id ASC").Find(&leads).Error; err != nil {
		t.Fatalf("lead query failed: %v", err)
	}
	names := make([]string, len(leads))
	for i, l := range leads {
		names[i] = l.FirstName
	}
	return names
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type recordingMailer struct {
	mu sync.Mutex
	to []string
}

func (m *recordingMailer) SendInvite(_ context.Context, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.to = append(m.to, to)
	return nil
}
