package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/djcrm/crm/internal/models"
)

func TestFollowUpLifecycle(t *testing.T) {
	env := setupTestEnv(t)
	owner, ownerToken := createTestUser(t, env.db, "owner", models.TierOrganiser, nil)
	agent, agentToken := createTestUser(t, env.db, "agent", models.TierAgent, owner)
	_, outsiderToken := createTestUser(t, env.db, "outsider", models.TierOrganiser, nil)
	lead := createTestLead(t, env.db, *owner.OrganisationID, "Jane", agent, nil)
	base := fmt.Sprintf("/api/leads/%d/followups", lead.ID)
	key := fmt.Sprintf("lead_followups/lead_%d/call.txt", lead.ID)
	recapKey := fmt.Sprintf("lead_followups/lead_%d/recap.txt", lead.ID)

	var withFile, notesOnly uint

	t.Run("POST with a file", func(t *testing.T) {
		resp := performMultipart(t, env.app, base, map[string]string{"notes": "Called back"}, "call.txt", []byte("transcript"), authHeaders(agentToken))
		assertStatus(t, resp, http.StatusCreated)
		data := dataMap(t, decodeJSONMap(t, resp))
		withFile = idOf(t, data)
		if data["fileName"] != "call.txt" {
			t.Fatalf("expected fileName call.txt, got %v", data["fileName"])
		}
		if !env.store.has(key) {
			t.Fatalf("expected object %s to be stored", key)
		}
	})

	t.Run("POST a second file with the same name", func(t *testing.T) {
		resp := performMultipart(t, env.app, base, map[string]string{}, "call.txt", []byte("again"), authHeaders(agentToken))
		assertStatus(t, resp, http.StatusCreated)
		if !env.store.has(fmt.Sprintf("lead_followups/lead_%d/call_1.txt", lead.ID)) {
			t.Fatalf("expected a suffixed key for the second upload")
		}
	})

	t.Run("POST notes only", func(t *testing.T) {
		resp := performMultipart(t, env.app, base, map[string]string{"notes": "Left a message"}, "", nil, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusCreated)
		notesOnly = idOf(t, dataMap(t, decodeJSONMap(t, resp)))
	})

	t.Run("POST without notes or file", func(t *testing.T) {
		resp := performMultipart(t, env.app, base, map[string]string{"notes": "  "}, "", nil, authHeaders(agentToken))
		assertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("GET lists the lead's follow-ups", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, base, nil, authHeaders(agentToken))
		assertStatus(t, resp, http.StatusOK)
		if items := dataList(t, decodeJSONMap(t, resp)); len(items) != 3 {
			t.Fatalf("expected 3 follow-ups, got %d", len(items))
		}
	})

	t.Run("other organisation cannot see the lead", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, base, nil, authHeaders(outsiderToken))
		assertStatus(t, resp, http.StatusNotFound)

		resp = performRequest(t, env.app, http.MethodGet, fmt.Sprintf("/api/followups/%d/download", withFile), nil, authHeaders(outsiderToken))
		assertStatus(t, resp, http.StatusNotFound)
	})

	t.Run("GET download streams the file", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, fmt.Sprintf("/api/followups/%d/download", withFile), nil, authHeaders(agentToken))
		assertStatus(t, resp, http.StatusOK)
		if !strings.Contains(resp.Header.Get("Content-Disposition"), "call.txt") {
			t.Fatalf("unexpected Content-Disposition %q", resp.Header.Get("Content-Disposition"))
		}
		if body := readBody(t, resp); body != "transcript" {
			t.Fatalf("unexpected body %q", body)
		}
	})

	t.Run("download without a file", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, fmt.Sprintf("/api/followups/%d/download", notesOnly), nil, authHeaders(agentToken))
		assertStatus(t, resp, http.StatusNotFound)
	})

	t.Run("GET a single follow-up", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, fmt.Sprintf("/api/followups/%d", withFile), nil, authHeaders(agentToken))
		assertStatus(t, resp, http.StatusOK)
		if notes := dataMap(t, decodeJSONMap(t, resp))["notes"]; notes != "Called back" {
			t.Fatalf("unexpected notes %v", notes)
		}

		resp = performRequest(t, env.app, http.MethodGet, fmt.Sprintf("/api/followups/%d", withFile), nil, authHeaders(outsiderToken))
		assertStatus(t, resp, http.StatusNotFound)
	})

	t.Run("PUT edits the notes", func(t *testing.T) {
		resp := performMultipartMethod(t, env.app, http.MethodPut, fmt.Sprintf("/api/followups/%d", notesOnly), map[string]string{
			"notes": "Left a voicemail",
		}, "", nil, authHeaders(agentToken))
		assertStatus(t, resp, http.StatusOK)
		if notes := dataMap(t, decodeJSONMap(t, resp))["notes"]; notes != "Left a voicemail" {
			t.Fatalf("unexpected notes %v", notes)
		}
	})

	t.Run("PUT cannot leave a follow-up empty", func(t *testing.T) {
		resp := performMultipartMethod(t, env.app, http.MethodPut, fmt.Sprintf("/api/followups/%d", notesOnly), map[string]string{
			"notes": " ",
		}, "", nil, authHeaders(agentToken))
		assertStatus(t, resp, http.StatusBadRequest)

		resp = performMultipartMethod(t, env.app, http.MethodPut, fmt.Sprintf("/api/followups/%d", notesOnly), map[string]string{}, "", nil, authHeaders(agentToken))
		assertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("PUT replaces the attached file", func(t *testing.T) {
		resp := performMultipartMethod(t, env.app, http.MethodPut, fmt.Sprintf("/api/followups/%d", withFile), map[string]string{}, "recap.txt", []byte("recap"), authHeaders(agentToken))
		assertStatus(t, resp, http.StatusOK)
		data := dataMap(t, decodeJSONMap(t, resp))
		if data["fileName"] != "recap.txt" || data["notes"] != "Called back" {
			t.Fatalf("unexpected follow-up %+v", data)
		}
		if env.store.has(key) || !env.store.has(recapKey) {
			t.Fatalf("expected %s to replace %s", recapKey, key)
		}
	})

	t.Run("other organisation cannot edit it", func(t *testing.T) {
		resp := performMultipartMethod(t, env.app, http.MethodPut, fmt.Sprintf("/api/followups/%d", withFile), map[string]string{
			"notes": "mine now",
		}, "", nil, authHeaders(outsiderToken))
		assertStatus(t, resp, http.StatusNotFound)
	})

	t.Run("DELETE removes the stored object", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodDelete, fmt.Sprintf("/api/followups/%d", withFile), nil, authHeaders(agentToken))
		assertStatus(t, resp, http.StatusOK)
		if env.store.has(recapKey) {
			t.Fatalf("expected object %s to be removed", recapKey)
		}
		var count int64
		env.db.Model(&models.FollowUp{}).Where("id = ?", withFile).Count(&count)
		if count != 0 {
			t.Fatalf("expected follow-up row to be deleted")
		}
	})

	t.Run("deleting the lead removes remaining files", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodDelete, fmt.Sprintf("/api/leads/%d", lead.ID), nil, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusOK)
		if env.store.has(fmt.Sprintf("lead_followups/lead_%d/call_1.txt", lead.ID)) {
			t.Fatalf("expected follow-up files to be removed with the lead")
		}
		var count int64
		env.db.Model(&models.FollowUp{}).Where("lead_id = ?", lead.ID).Count(&count)
		if count != 0 {
			t.Fatalf("expected follow-ups to be deleted, %d left", count)
		}
	})
}
