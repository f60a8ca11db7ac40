package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"BeaconRelay/internal/alerts"
	"BeaconRelay/internal/location"
	"BeaconRelay/internal/models"
	"BeaconRelay/pkg/cache"
	"BeaconRelay/pkg/middleware"
)

var testDBSeq int64

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	r, _ := newTestRouterDB(t)
	return r
}

func newTestRouterDB(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Alert{},
		&models.CurrentLocation{},
		&models.LocationHistory{},
		&middleware.OperatorAudit{},
	))

	store := location.NewStore(db, nil, nil)
	engine := alerts.NewEngine(db, nil, nil, nil)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandlers(db, store, engine, nil, nil, nil, nil).Register(r)
	return r, db
}

type apiBody struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, payload interface{}) (int, apiBody) {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var parsed apiBody
	if len(w.Body.Bytes()) > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &parsed)
	}
	return w.Code, parsed
}

func createAlert(t *testing.T, r *gin.Engine) models.Alert {
	t.Helper()
	status, body := doRequest(t, r, http.MethodPost, "/api/alert/panic", gin.H{
		"userId":    7,
		"latitude":  52.52,
		"longitude": 13.405,
	})
	require.Equal(t, http.StatusCreated, status)

	var alert models.Alert
	require.NoError(t, json.Unmarshal(body.Data, &alert))
	return alert
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestUpdateLocationEndpoint(t *testing.T) {
	r := newTestRouter(t)

	status, body := doRequest(t, r, http.MethodPost, "/api/location/update", gin.H{
		"userId":    7,
		"latitude":  52.52,
		"longitude": 13.405,
		"accuracy":  15,
	})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)

	var current models.CurrentLocation
	require.NoError(t, json.Unmarshal(body.Data, &current))
	assert.Equal(t, uint(7), current.UserID)
	assert.Equal(t, 52.52, current.Latitude)
}

func TestUpdateLocationRejectsMissingUser(t *testing.T) {
	r := newTestRouter(t)

	status, body := doRequest(t, r, http.MethodPost, "/api/location/update", gin.H{
		"latitude": 52.52, "longitude": 13.405,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, body.Success)
}

func TestUpdateLocationRejectsBadCoordinates(t *testing.T) {
	r := newTestRouter(t)

	status, _ := doRequest(t, r, http.MethodPost, "/api/location/update", gin.H{
		"userId": 7, "latitude": 91.0, "longitude": 13.405,
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCurrentLocationEndpoint(t *testing.T) {
	r := newTestRouter(t)

	status, _ := doRequest(t, r, http.MethodGet, "/api/location/current/7", nil)
	assert.Equal(t, http.StatusNotFound, status)

	doRequest(t, r, http.MethodPost, "/api/location/update", gin.H{
		"userId": 7, "latitude": 52.52, "longitude": 13.405,
	})

	status, body := doRequest(t, r, http.MethodGet, "/api/location/current/7", nil)
	require.Equal(t, http.StatusOK, status)

	var current models.CurrentLocation
	require.NoError(t, json.Unmarshal(body.Data, &current))
	assert.Equal(t, uint(7), current.UserID)
}

func TestLocationHistoryEndpoint(t *testing.T) {
	r := newTestRouter(t)

	for i := 0; i < 3; i++ {
		doRequest(t, r, http.MethodPost, "/api/location/update", gin.H{
			"userId": 7, "latitude": 52.52 + float64(i)*0.001, "longitude": 13.405,
		})
	}

	status, body := doRequest(t, r, http.MethodGet, "/api/location/history/7?limit=2", nil)
	require.Equal(t, http.StatusOK, status)

	var history []models.LocationHistory
	require.NoError(t, json.Unmarshal(body.Data, &history))
	assert.Len(t, history, 2)
}

func TestNearbyUsersEndpoint(t *testing.T) {
	r := newTestRouter(t)

	doRequest(t, r, http.MethodPost, "/api/location/update", gin.H{
		"userId": 7, "latitude": 52.52, "longitude": 13.405,
	})
	doRequest(t, r, http.MethodPost, "/api/location/update", gin.H{
		"userId": 8, "latitude": 48.8566, "longitude": 2.3522,
	})

	status, body := doRequest(t, r, http.MethodGet,
		"/api/location/nearby?latitude=52.52&longitude=13.405&radiusKm=10", nil)
	require.Equal(t, http.StatusOK, status)

	var nearby []models.NearbyUser
	require.NoError(t, json.Unmarshal(body.Data, &nearby))
	require.Len(t, nearby, 1)
	assert.Equal(t, uint(7), nearby[0].UserID)
}

func TestLocationStatsEndpoint(t *testing.T) {
	r := newTestRouter(t)

	doRequest(t, r, http.MethodPost, "/api/location/update", gin.H{
		"userId": 7, "latitude": 52.52, "longitude": 13.405, "accuracy": 20,
	})

	status, body := doRequest(t, r, http.MethodGet, "/api/location/stats/7", nil)
	require.Equal(t, http.StatusOK, status)

	var stats models.LocationStats
	require.NoError(t, json.Unmarshal(body.Data, &stats))
	assert.Equal(t, int64(1), stats.TotalLocations)
}

func TestCreatePanicAlertEndpoint(t *testing.T) {
	r := newTestRouter(t)

	alert := createAlert(t, r)
	assert.Len(t, alert.ID, 36)
	assert.Equal(t, models.AlertStatusActive, alert.Status)
	assert.Equal(t, models.DefaultAlertPriority, alert.Priority)
}

func TestCreatePanicAlertRejectsBadCoordinates(t *testing.T) {
	r := newTestRouter(t)

	status, _ := doRequest(t, r, http.MethodPost, "/api/alert/panic", gin.H{
		"userId": 7, "latitude": 200.0, "longitude": 13.405,
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAlertByIDEndpoint(t *testing.T) {
	r := newTestRouter(t)
	alert := createAlert(t, r)

	status, body := doRequest(t, r, http.MethodGet, "/api/alerts/"+alert.ID, nil)
	require.Equal(t, http.StatusOK, status)

	var got models.Alert
	require.NoError(t, json.Unmarshal(body.Data, &got))
	assert.Equal(t, alert.ID, got.ID)

	status, _ = doRequest(t, r, http.MethodGet, "/api/alerts/no-such-alert", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestActiveAlertsEndpoint(t *testing.T) {
	r := newTestRouter(t)
	createAlert(t, r)
	createAlert(t, r)

	status, body := doRequest(t, r, http.MethodGet, "/api/alerts/active", nil)
	require.Equal(t, http.StatusOK, status)

	var list []models.Alert
	require.NoError(t, json.Unmarshal(body.Data, &list))
	assert.Len(t, list, 2)
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	alert := createAlert(t, r)

	status, body := doRequest(t, r, http.MethodPost, "/api/alerts/"+alert.ID+"/acknowledge", gin.H{
		"operatorId": 21, "notes": "enroute",
	})
	require.Equal(t, http.StatusOK, status)

	var acked models.Alert
	require.NoError(t, json.Unmarshal(body.Data, &acked))
	assert.Equal(t, models.AlertStatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AssignedOperator)
	assert.Equal(t, uint(21), *acked.AssignedOperator)

	// 重复确认：状态前置条件失败
	status, _ = doRequest(t, r, http.MethodPost, "/api/alerts/"+alert.ID+"/acknowledge", gin.H{
		"operatorId": 22,
	})
	assert.Equal(t, http.StatusConflict, status)

	status, body = doRequest(t, r, http.MethodPost, "/api/alerts/"+alert.ID+"/responding", gin.H{
		"operatorId": 21,
	})
	require.Equal(t, http.StatusOK, status)
	var responding models.Alert
	require.NoError(t, json.Unmarshal(body.Data, &responding))
	assert.Equal(t, models.AlertStatusResponding, responding.Status)

	status, body = doRequest(t, r, http.MethodPost, "/api/alerts/"+alert.ID+"/resolve", gin.H{
		"operatorId": 21, "notes": "user safe",
	})
	require.Equal(t, http.StatusOK, status)
	var resolved models.Alert
	require.NoError(t, json.Unmarshal(body.Data, &resolved))
	assert.Equal(t, models.AlertStatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)

	// 终态后一切迁移都被拒绝
	status, _ = doRequest(t, r, http.MethodPost, "/api/alerts/"+alert.ID+"/false-alarm", gin.H{
		"operatorId": 21,
	})
	assert.Equal(t, http.StatusConflict, status)
}

func TestTransitionMissingAlertReturns404(t *testing.T) {
	r := newTestRouter(t)

	status, _ := doRequest(t, r, http.MethodPost, "/api/alerts/no-such-alert/acknowledge", gin.H{
		"operatorId": 21,
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestFalseAlarmEndpoint(t *testing.T) {
	r := newTestRouter(t)
	alert := createAlert(t, r)

	status, body := doRequest(t, r, http.MethodPost, "/api/alerts/"+alert.ID+"/false-alarm", gin.H{
		"operatorId": 21, "notes": "test by user",
	})
	require.Equal(t, http.StatusOK, status)

	var got models.Alert
	require.NoError(t, json.Unmarshal(body.Data, &got))
	assert.Equal(t, models.AlertStatusFalseAlarm, got.Status)
	assert.NotNil(t, got.ResolvedAt)
}

func TestAssignOperatorEndpoint(t *testing.T) {
	r := newTestRouter(t)
	alert := createAlert(t, r)

	status, body := doRequest(t, r, http.MethodPost, "/api/alerts/"+alert.ID+"/assign", gin.H{
		"operatorId": 35,
	})
	require.Equal(t, http.StatusOK, status)

	var got models.Alert
	require.NoError(t, json.Unmarshal(body.Data, &got))
	require.NotNil(t, got.AssignedOperator)
	assert.Equal(t, uint(35), *got.AssignedOperator)
}

func TestAppendNotesEndpoint(t *testing.T) {
	r := newTestRouter(t)
	alert := createAlert(t, r)

	status, body := doRequest(t, r, http.MethodPost, "/api/alerts/"+alert.ID+"/notes", gin.H{
		"notes": "calling user",
	})
	require.Equal(t, http.StatusOK, status)

	var got models.Alert
	require.NoError(t, json.Unmarshal(body.Data, &got))
	assert.Contains(t, got.OperatorNotes, "calling user")
}

func TestAlertsByUserEndpoint(t *testing.T) {
	r := newTestRouter(t)
	createAlert(t, r)

	status, body := doRequest(t, r, http.MethodGet, "/api/alerts/user/7", nil)
	require.Equal(t, http.StatusOK, status)

	var list []models.Alert
	require.NoError(t, json.Unmarshal(body.Data, &list))
	assert.Len(t, list, 1)

	status, body = doRequest(t, r, http.MethodGet, "/api/alerts/user/999", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body.Data, &list))
	assert.Empty(t, list)
}

func TestSearchAlertsEndpoint(t *testing.T) {
	r := newTestRouter(t)
	alert := createAlert(t, r)
	doRequest(t, r, http.MethodPost, "/api/alerts/"+alert.ID+"/resolve", gin.H{"operatorId": 21})
	createAlert(t, r)

	status, body := doRequest(t, r, http.MethodGet, "/api/alerts/search?status=resolved", nil)
	require.Equal(t, http.StatusOK, status)

	var list []models.Alert
	require.NoError(t, json.Unmarshal(body.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, alert.ID, list[0].ID)

	status, _ = doRequest(t, r, http.MethodGet, "/api/alerts/search?startDate=not-a-date", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAlertStatsEndpoint(t *testing.T) {
	r := newTestRouter(t)
	alert := createAlert(t, r)
	doRequest(t, r, http.MethodPost, "/api/alerts/"+alert.ID+"/resolve", gin.H{"operatorId": 21})
	createAlert(t, r)

	status, body := doRequest(t, r, http.MethodGet, "/api/alerts/stats", nil)
	require.Equal(t, http.StatusOK, status)

	var stats models.AlertStats
	require.NoError(t, json.Unmarshal(body.Data, &stats))
	assert.Equal(t, int64(2), stats.TotalAlerts)
	assert.Equal(t, int64(1), stats.ActiveAlerts)
	assert.Equal(t, int64(1), stats.ResolvedAlerts)
}

func TestPanicAlertIdempotencyWindow(t *testing.T) {
	dsn := fmt.Sprintf("file:handlers%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.Alert{}, &models.CurrentLocation{}, &models.LocationHistory{},
		&middleware.OperatorAudit{},
	))

	appCache, err := cache.NewCache(cache.Config{Type: "local"})
	require.NoError(t, err)
	defer appCache.Close()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	store := location.NewStore(db, nil, nil)
	engine := alerts.NewEngine(db, nil, nil, nil)
	NewHandlers(db, store, engine, nil, nil, nil, appCache).Register(r)

	payload := gin.H{"userId": 7, "latitude": 52.52, "longitude": 13.405}
	status, _ := doRequest(t, r, http.MethodPost, "/api/alert/panic", payload)
	assert.Equal(t, http.StatusCreated, status)

	// 同一请求体在幂等窗口内被拒
	status, _ = doRequest(t, r, http.MethodPost, "/api/alert/panic", payload)
	assert.Equal(t, http.StatusConflict, status)

	// 不同请求体不受影响
	status, _ = doRequest(t, r, http.MethodPost, "/api/alert/panic", gin.H{
		"userId": 8, "latitude": 52.53, "longitude": 13.41,
	})
	assert.Equal(t, http.StatusCreated, status)
}

func TestOperatorActionsAreAudited(t *testing.T) {
	r, db := newTestRouterDB(t)
	alert := createAlert(t, r)

	doRequest(t, r, http.MethodPost, "/api/alerts/"+alert.ID+"/acknowledge", gin.H{
		"operatorId": 21, "notes": "enroute",
	})

	var audits []middleware.OperatorAudit
	require.NoError(t, db.Find(&audits).Error)
	require.Len(t, audits, 1)
	assert.Equal(t, uint(21), audits[0].OperatorID)
	assert.Equal(t, alert.ID, audits[0].AlertID)
	assert.Equal(t, "acknowledge", audits[0].Action)
	assert.Equal(t, http.StatusOK, audits[0].Status)

	// 读请求不落审计
	doRequest(t, r, http.MethodGet, "/api/alerts/"+alert.ID, nil)
	require.NoError(t, db.Find(&audits).Error)
	assert.Len(t, audits, 1)
}

func TestRateLimiterConfigWithoutLimiter(t *testing.T) {
	r := newTestRouter(t)

	status, _ := doRequest(t, r, http.MethodPost, "/api/system/rate-limiter/config", gin.H{
		"rate": "100-M",
	})
	assert.Equal(t, http.StatusNotImplemented, status)
}
