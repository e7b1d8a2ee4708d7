package app

import (
	"bytes"
	"encoding/json"
	"exam_prep_backend/internal/config"
	"exam_prep_backend/internal/model"
	"exam_prep_backend/internal/repository/testutil"
	"exam_prep_backend/internal/util"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "router-test-secret-router-test-secret"

type testServer struct {
	db     *gorm.DB
	router *gin.Engine
	app    *App
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		JWT:       config.JWTConfig{Secret: testSecret},
		RateLimit: config.RateLimitConfig{MaxRequests: 1000, WindowMinutes: 1},
		Engine:    config.DefaultEngineConfig(),
	}
	db := testutil.DB(t)

	a := &App{Config: cfg, DB: db}
	repos := a.initRepositories(db)
	a.services = a.initServices(repos, cfg, db, nil)
	c := a.initControllers(a.services, db, nil)

	router := gin.New()
	a.setupMiddlewares(router, cfg)
	a.registerRoutes(router, c, cfg)
	a.Router = router

	return &testServer{db: db, router: router, app: a}
}

func (s *testServer) do(t *testing.T, method, path string, userID uint, body interface{}) (*httptest.ResponseRecorder, util.Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		token, err := util.GenerateJWT(userID, "student", "u@example.com", testSecret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp util.Response
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func dataMap(t *testing.T, resp util.Response) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "unexpected data %#v", resp.Data)
	return m
}

func TestRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/streak", "/api/usage", "/api/revisions", "/api/analytics/overview"} {
		w, _ := s.do(t, http.MethodGet, path, 0, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/streak", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, http.MethodGet, "/api/health", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAttemptLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	section := testutil.SeedSection(t, s.db, "Algebra")
	q1 := testutil.SeedQuestion(t, s.db, section.ID, model.DifficultyEasy)
	q2 := testutil.SeedQuestion(t, s.db, section.ID, model.DifficultyHard)

	w, resp := s.do(t, http.MethodPost, "/api/attempts", 7, gin.H{"testType": "practice"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	attemptID := uint(dataMap(t, resp)["id"].(float64))

	submit := gin.H{"answers": []gin.H{
		{"questionId": q1.ID, "isCorrect": true, "timeSpentSeconds": 30},
		{"questionId": q2.ID, "isCorrect": false, "timeSpentSeconds": 50},
	}}
	path := fmt.Sprintf("/api/attempts/%d/submit", attemptID)

	w, resp = s.do(t, http.MethodPost, path, 7, submit)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := dataMap(t, resp)
	assert.Equal(t, "submitted", data["status"])
	assert.EqualValues(t, 50, data["score"])

	w, _ = s.do(t, http.MethodPost, path, 7, submit)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 其他用户看不到该测试
	w, _ = s.do(t, http.MethodPost, path, 8, submit)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/attempts/abc/submit", 7, submit)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/attempts", 7, gin.H{"testType": "essay"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsageOverHTTP(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, http.MethodGet, "/api/usage", 3, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 5, dataMap(t, resp)["mockTests"])

	for i := 0; i < 5; i++ {
		w, _ = s.do(t, http.MethodPost, "/api/usage/mock_test/consume", 3, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, _ = s.do(t, http.MethodPost, "/api/usage/mock_test/consume", 3, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w, resp = s.do(t, http.MethodGet, "/api/usage/mock-test-limit", 3, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, dataMap(t, resp)["reached"])

	w, _ = s.do(t, http.MethodPost, "/api/usage/video/consume", 3, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 计费侧开通会员后刷新权益
	require.NoError(t, s.db.Create(&model.UserEntitlement{UserID: 3, Plan: "premium", IsUnlimited: true}).Error)
	w, resp = s.do(t, http.MethodPost, "/api/usage/entitlement/refresh", 3, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, dataMap(t, resp)["isUnlimited"])
	assert.EqualValues(t, -1, dataMap(t, resp)["mockTests"])
}

func TestAnalyticsRangeValidation(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/api/analytics/overview?range=1y", 5, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, path := range []string{
		"/api/analytics/overview",
		"/api/analytics/trend?range=7d",
		"/api/analytics/difficulty?range=all",
		"/api/analytics/test-types",
		"/api/analytics/time-performance",
		"/api/analytics/insights",
		"/api/analytics/dashboard?range=90d",
	} {
		w, _ := s.do(t, http.MethodGet, path, 5, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestEngineReadRoutesForNewUser(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, http.MethodGet, "/api/streak", 9, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, dataMap(t, resp)["currentStreakDays"])

	w, resp = s.do(t, http.MethodGet, "/api/weak-topics", 9, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, resp.Data)

	w, resp = s.do(t, http.MethodGet, "/api/revisions", 9, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, resp.Data)

	w, _ = s.do(t, http.MethodGet, "/api/weak-topics/3", 9, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/revisions/42/complete", 9, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/weak-topics/analyze", 9, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	s.app.services.followUp.Wait()
}

func TestConfigCallbacksApplyEngineSettings(t *testing.T) {
	s := newTestServer(t)

	next := &config.Config{Engine: config.DefaultEngineConfig()}
	next.Engine.Quota.MockTestCap = 2
	next.Engine.WeakThreshold = 0.5
	s.app.applyConfig(next)

	assert.Equal(t, 2, s.app.services.usage.Caps().MockTest)
	assert.Equal(t, 0.5, s.app.services.weakTopic.Settings().WeakThreshold)
}
