package handlers

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/djcrm/crm/internal/middleware"
	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/internal/services"
	"github.com/djcrm/crm/internal/storage"
	"github.com/djcrm/crm/pkg/logger"
	"github.com/djcrm/crm/pkg/utils"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"
)

var testSetupOnce sync.Once

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	store  *memoryStore
	mailer *recordingMailer
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
	})

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

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	store := newMemoryStore()
	mailer := &recordingMailer{}
	visibility := services.NewVisibilityService(db)

	app := fiber.New(fiber.Config{BodyLimit: 10 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	Register(app, Dependencies{
		DB:         db,
		Storage:    store,
		Visibility: visibility,
		Users:      services.NewUserService(db, visibility, mailer),
		Tiers:      services.NewTierService(db),
		CaseFields: services.NewCaseFieldService(db),
		URLExpiry:  15 * time.Minute,
	})

	return &testEnv{app: app, db: db, store: store, mailer: mailer}
}

// createTestUser inserts a user of tier with password "password123".
// Organisers and super admins own a fresh organisation; agents and managers
// report to supervisor when it is set.
func createTestUser(t *testing.T, db *gorm.DB, username string, tier models.Tier, supervisor *models.User) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword("password123")
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Username:     username,
		Email:        username + "@test.com",
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     username,
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
		t.Fatalf("failed creating test user: %v", err)
	}
	if supervisor != nil {
		if err := db.Create(&models.SupervisionEdge{UserID: user.ID, SupervisorID: supervisor.ID}).Error; err != nil {
			t.Fatalf("failed creating supervision edge: %v", err)
		}
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func createTestLead(t *testing.T, db *gorm.DB, orgID uint, firstName string, agent, manager *models.User) *models.Lead {
	t.Helper()

	lead := &models.Lead{
		FirstName:      firstName,
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

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

// performMultipart posts fields and, when fileName is set, one file under
// the "file" field.
func performMultipart(t *testing.T, app *fiber.App, path string, fields map[string]string, fileName string, content []byte, headers map[string]string) *http.Response {
	t.Helper()
	return performMultipartMethod(t, app, http.MethodPost, path, fields, fileName, content, headers)
}

func performMultipartMethod(t *testing.T, app *fiber.App, method, path string, fields map[string]string, fileName string, content []byte, headers map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed writing field %s: %v", key, err)
		}
	}
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("failed creating form file: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("failed writing form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}

	requestHeaders := map[string]string{"Content-Type": writer.FormDataContentType()}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	return performRequest(t, app, method, path, &buf, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}
	return string(raw)
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}

// assertSoftDenied checks the redirect to the lead list.
func assertSoftDenied(t *testing.T, resp *http.Response) {
	t.Helper()
	assertStatus(t, resp, http.StatusSeeOther)
	if location := resp.Header.Get("Location"); location != middleware.LandingPath {
		t.Fatalf("expected redirect to %s, got %q", middleware.LandingPath, location)
	}
}

func dataMap(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected object data, got %+v", body)
	}
	return data
}

func dataList(t *testing.T, body map[string]any) []any {
	t.Helper()
	data, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("expected list data, got %+v", body)
	}
	return data
}

// field returns key of a decoded JSON object.
func field(item any, key string) any {
	obj, _ := item.(map[string]any)
	return obj[key]
}

func idOf(t *testing.T, item any) uint {
	t.Helper()
	id, ok := field(item, "id").(float64)
	if !ok {
		t.Fatalf("expected numeric id in %+v", item)
	}
	return uint(id)
}

func sortedStrings(items []any, key string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := field(item, key).(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (s *memoryStore) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memoryStore) Download(_ context.Context, key string) (*storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return &storage.Object{ReadCloser: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data)), ContentType: "text/plain"}, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memoryStore) PresignedGetURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "memory://" + key, nil
}

func (s *memoryStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
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

func (m *recordingMailer) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.to...)
}
