package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/djcrm/crm/internal/models"
)

func TestWorkReportEndpoints(t *testing.T) {
	env := setupTestEnv(t)
	owner, ownerToken := createTestUser(t, env.db, "owner", models.TierOrganiser, nil)
	manager, managerToken := createTestUser(t, env.db, "manager", models.TierManager, owner)
	author, authorToken := createTestUser(t, env.db, "author", models.TierAgent, owner)
	teammate, teammateToken := createTestUser(t, env.db, "teammate", models.TierAgent, owner)
	_, loneToken := createTestUser(t, env.db, "lone", models.TierAgent, owner)
	_, orphanToken := createTestUser(t, env.db, "orphan", models.TierAgent, nil)
	orgID := *owner.OrganisationID

	team := models.Team{Name: "Alpha", LeaderID: manager.ID, OrganisationID: orgID}
	if err := env.db.Create(&team).Error; err != nil {
		t.Fatalf("failed creating team: %v", err)
	}
	for _, member := range []*models.User{author, teammate} {
		if err := env.db.Create(&models.TeamMember{TeamID: team.ID, MemberID: member.ID}).Error; err != nil {
			t.Fatalf("failed adding member: %v", err)
		}
	}

	key := fmt.Sprintf("workreports/%d/week1.docx", orgID)
	finalKey := fmt.Sprintf("workreports/%d/week1-final.docx", orgID)
	var reportID uint

	t.Run("orphaned agents cannot file reports", func(t *testing.T) {
		resp := performMultipart(t, env.app, "/api/workreports", map[string]string{"title": "Week 1"}, "week1.docx", []byte("x"), authHeaders(orphanToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusBadRequest)
		assertEnvelopeError(t, body, "Supervisor not found.")
	})

	t.Run("a file is required", func(t *testing.T) {
		resp := performMultipart(t, env.app, "/api/workreports", map[string]string{"title": "Week 1"}, "", nil, authHeaders(authorToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusBadRequest)
		fields, _ := body["fields"].(map[string]any)
		if fields["file"] == nil {
			t.Fatalf("expected file problem, got %+v", body)
		}
	})

	t.Run("POST files a report", func(t *testing.T) {
		resp := performMultipart(t, env.app, "/api/workreports", map[string]string{"title": "Week 1"}, "week1.docx", []byte("done"), authHeaders(authorToken))
		assertStatus(t, resp, http.StatusCreated)
		data := dataMap(t, decodeJSONMap(t, resp))
		reportID = idOf(t, data)
		if data["creatorID"] != float64(author.ID) || data["organisationID"] != float64(orgID) {
			t.Fatalf("unexpected report %+v", data)
		}
		if !env.store.has(key) {
			t.Fatalf("expected %s to be stored", key)
		}
	})

	listTitles := func(t *testing.T, token string) int {
		t.Helper()
		resp := performRequest(t, env.app, http.MethodGet, "/api/workreports", nil, authHeaders(token))
		assertStatus(t, resp, http.StatusOK)
		return len(dataList(t, decodeJSONMap(t, resp)))
	}

	t.Run("list visibility follows teams", func(t *testing.T) {
		tests := []struct {
			name  string
			token string
			want  int
		}{
			{"author", authorToken, 1},
			{"teammate", teammateToken, 1},
			{"team leader", managerToken, 1},
			{"organiser", ownerToken, 1},
			{"agent outside the team", loneToken, 0},
			{"orphan", orphanToken, 0},
		}
		for _, tt := range tests {
			if got := listTitles(t, tt.token); got != tt.want {
				t.Fatalf("%s: expected %d reports, got %d", tt.name, tt.want, got)
			}
		}
	})

	t.Run("a year filter with no reports", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/workreports?time_range=years&year=1999", nil, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusOK)
		if got := len(dataList(t, decodeJSONMap(t, resp))); got != 0 {
			t.Fatalf("expected no reports in 1999, got %d", got)
		}
	})

	t.Run("detail is visible across the organisation", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, fmt.Sprintf("/api/workreports/%d", reportID), nil, authHeaders(loneToken))
		assertStatus(t, resp, http.StatusOK)

		resp = performRequest(t, env.app, http.MethodGet, fmt.Sprintf("/api/workreports/%d/download", reportID), nil, authHeaders(teammateToken))
		assertStatus(t, resp, http.StatusOK)
		if body := readBody(t, resp); body != "done" {
			t.Fatalf("unexpected body %q", body)
		}
	})

	t.Run("another agent cannot edit it", func(t *testing.T) {
		resp := performMultipartMethod(t, env.app, http.MethodPut, fmt.Sprintf("/api/workreports/%d", reportID), map[string]string{
			"title": "Mine",
		}, "", nil, authHeaders(teammateToken))
		assertSoftDenied(t, resp)
	})

	t.Run("the author renames it", func(t *testing.T) {
		resp := performMultipartMethod(t, env.app, http.MethodPut, fmt.Sprintf("/api/workreports/%d", reportID), map[string]string{
			"title": "Week 1 (draft)",
		}, "", nil, authHeaders(authorToken))
		assertStatus(t, resp, http.StatusOK)
		if title := dataMap(t, decodeJSONMap(t, resp))["title"]; title != "Week 1 (draft)" {
			t.Fatalf("unexpected title %v", title)
		}

		resp = performMultipartMethod(t, env.app, http.MethodPut, fmt.Sprintf("/api/workreports/%d", reportID), map[string]string{
			"title": "",
		}, "", nil, authHeaders(authorToken))
		assertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("an organiser replaces the file", func(t *testing.T) {
		resp := performMultipartMethod(t, env.app, http.MethodPut, fmt.Sprintf("/api/workreports/%d", reportID), map[string]string{}, "week1-final.docx", []byte("final"), authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusOK)
		data := dataMap(t, decodeJSONMap(t, resp))
		if data["fileName"] != "week1-final.docx" || data["title"] != "Week 1 (draft)" {
			t.Fatalf("unexpected report %+v", data)
		}
		if env.store.has(key) || !env.store.has(finalKey) {
			t.Fatalf("expected %s to replace %s", finalKey, key)
		}
	})

	t.Run("another agent cannot delete it", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodDelete, fmt.Sprintf("/api/workreports/%d", reportID), nil, authHeaders(teammateToken))
		assertSoftDenied(t, resp)
		if !env.store.has(finalKey) {
			t.Fatalf("expected %s to be kept", finalKey)
		}
	})

	t.Run("the author deletes it", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodDelete, fmt.Sprintf("/api/workreports/%d", reportID), nil, authHeaders(authorToken))
		assertStatus(t, resp, http.StatusOK)
		if env.store.has(finalKey) {
			t.Fatalf("expected %s to be removed", finalKey)
		}
	})
}
