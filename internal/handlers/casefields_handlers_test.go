package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/djcrm/crm/internal/models"
)

func TestCaseFieldEndpoints(t *testing.T) {
	env := setupTestEnv(t)
	owner, ownerToken := createTestUser(t, env.db, "owner", models.TierOrganiser, nil)
	_, agentToken := createTestUser(t, env.db, "agent", models.TierAgent, owner)
	_, otherToken := createTestUser(t, env.db, "other", models.TierOrganiser, nil)

	var fieldID uint

	t.Run("POST declares a field", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/casefields", map[string]any{
			"name":      "budget",
			"fieldType": "number",
		}, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusCreated)
		fieldID = idOf(t, dataMap(t, decodeJSONMap(t, resp)))
	})

	t.Run("POST repeating a name returns the existing field", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/casefields", map[string]any{
			"name":      "budget",
			"fieldType": "text",
		}, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusOK)
		data := dataMap(t, decodeJSONMap(t, resp))
		if idOf(t, data) != fieldID || data["fieldType"] != "number" {
			t.Fatalf("expected the existing field, got %+v", data)
		}
	})

	t.Run("POST with an unknown type", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/casefields", map[string]any{
			"name":      "colour",
			"fieldType": "rgb",
		}, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("the same name in another organisation is a new field", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/casefields", map[string]any{
			"name":      "budget",
			"fieldType": "number",
		}, authHeaders(otherToken))
		assertStatus(t, resp, http.StatusCreated)
	})

	t.Run("GET lists the organisation schema", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/casefields", nil, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusOK)
		if items := dataList(t, decodeJSONMap(t, resp)); len(items) != 1 {
			t.Fatalf("expected 1 field, got %+v", items)
		}
	})

	t.Run("agents are sent back to the lead list", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/casefields", nil, authHeaders(agentToken))
		assertSoftDenied(t, resp)
	})

	t.Run("DELETE from another organisation", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodDelete, fmt.Sprintf("/api/casefields/%d", fieldID), nil, authHeaders(otherToken))
		assertStatus(t, resp, http.StatusNotFound)
	})

	t.Run("DELETE removes the field and its values", func(t *testing.T) {
		lead := createTestLead(t, env.db, *owner.OrganisationID, "Jane", nil, nil)
		number := int64(7)
		if err := env.db.Create(&models.CaseValue{LeadID: lead.ID, FieldID: fieldID, ValueNumber: &number}).Error; err != nil {
			t.Fatalf("failed creating case value: %v", err)
		}

		resp := performRequest(t, env.app, http.MethodDelete, fmt.Sprintf("/api/casefields/%d", fieldID), nil, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusOK)

		var count int64
		env.db.Model(&models.CaseValue{}).Where("field_id = ?", fieldID).Count(&count)
		if count != 0 {
			t.Fatalf("expected values to be deleted, %d left", count)
		}
	})
}
