package services

import (
	"testing"

	"github.com/djcrm/crm/internal/models"
)

func TestAuditService_CloseFlushesQueue(t *testing.T) {
	db := setupTestDB(t)
	svc := NewAuditService(db, 10)

	userID := uint(7)
	resourceID := uint(3)
	for _, action := range []string{"lead_created", "lead_updated"} {
		svc.LogAsync(AuditEntry{
			UserID:       &userID,
			Action:       action,
			ResourceType: "lead",
			ResourceID:   &resourceID,
			Details:      map[string]interface{}{"status": "in_progress"},
			RequestID:    "req-1",
		})
	}
	svc.Close()
	svc.Close()

	var logs []models.AuditLog
	if err := db.Order("created_at ASC").Find(&logs).Error; err != nil {
		t.Fatalf("failed reading audit logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(logs))
	}
	if logs[0].UserID == nil || *logs[0].UserID != 7 || logs[0].Details["status"] != "in_progress" {
		t.Fatalf("unexpected row: %+v", logs[0])
	}
}

func TestAuditService_NilIsSafe(t *testing.T) {
	var svc *AuditService
	svc.LogAsync(AuditEntry{Action: "ignored"})
	svc.Close()
}
