package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nags45/scalops/internal/auth"
	"github.com/nags45/scalops/internal/awscloud"
	"github.com/nags45/scalops/internal/link"
	"github.com/nags45/scalops/internal/users"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubAWSValidator struct {
	mu       sync.Mutex
	calls    int
	identity awscloud.CallerIdentity
	err      error
}

func (s *stubAWSValidator) TestCredentials(_ context.Context, _, _ string) (awscloud.CallerIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return awscloud.CallerIdentity{}, s.err
	}
	return s.identity, nil
}

type stubGoogleVerifier struct {
	claims auth.GoogleClaims
	err    error
}

func (s *stubGoogleVerifier) Verify(_ context.Context, _ string) (auth.GoogleClaims, error) {
	if s.err != nil {
		return auth.GoogleClaims{}, s.err
	}
	return s.claims, nil
}

type routerFixture struct {
	handler   http.Handler
	store     *users.Store
	validator *stubAWSValidator
	google    *stubGoogleVerifier
	clock     *testClock
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&users.User{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	store, err := users.NewStore(users.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	codec, err := auth.NewTokenCodec(auth.TokenCodecConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "scalops-auth",
		TokenTTL:      24 * time.Hour,
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create token codec: %v", err)
	}

	validator := &stubAWSValidator{identity: awscloud.CallerIdentity{
		Account: "123456789012",
		UserID:  "AIDAEXAMPLE",
		ARN:     "arn:aws:iam::123456789012:user/tester",
	}}

	linker, err := link.NewOrchestrator(link.OrchestratorConfig{Validator: validator, Store: store})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	google := &stubGoogleVerifier{claims: auth.GoogleClaims{
		Subject: "google-subject-1",
		Email:   "fed@example.com",
		Name:    "Fed User",
	}}

	handler, err := NewHTTPHandler(Dependencies{
		Store:          store,
		Tokens:         codec,
		GoogleVerifier: google,
		Linker:         linker,
		Validator:      validator,
		ClientOrigin:   "http://localhost:3000",
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &routerFixture{
		handler:   handler,
		store:     store,
		validator: validator,
		google:    google,
		clock:     clock,
	}
}

func (f *routerFixture) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func (f *routerFixture) register(t *testing.T, email, password, name string) tokenResponsePayload {
	t.Helper()
	recorder := f.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"email":    email,
		"password": password,
		"name":     name,
	}, "")
	if recorder.Code != http.StatusCreated {
		t.Fatalf("registration failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var response tokenResponsePayload
	decodeJSON(t, recorder, &response)
	return response
}
