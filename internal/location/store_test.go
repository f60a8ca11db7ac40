package location

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"BeaconRelay/internal/models"
	"BeaconRelay/pkg/errors"
)

var testDBSeq int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:locstore%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.CurrentLocation{},
		&models.LocationHistory{},
		&models.Alert{},
	))
	return db
}

func TestValidateCoordinates(t *testing.T) {
	assert.NoError(t, ValidateCoordinates(52.52, 13.405))
	assert.NoError(t, ValidateCoordinates(-90, -180))
	assert.NoError(t, ValidateCoordinates(90, 180))

	for _, tc := range []struct{ lat, lng float64 }{
		{91, 0},
		{-91, 0},
		{0, 181},
		{0, -181},
	} {
		err := ValidateCoordinates(tc.lat, tc.lng)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	}
}

func TestRecordFixUpsert(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil, nil)
	ctx := context.Background()

	first := models.LocationFix{
		UserID:    7,
		Latitude:  52.52,
		Longitude: 13.405,
		Accuracy:  12,
	}
	current, err := store.RecordFix(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, uint(7), current.UserID)
	assert.Equal(t, 52.52, current.Latitude)
	assert.Equal(t, "gps", current.Provider)

	// 同一用户再次上报：覆盖当前位置而不是新增行
	second := models.LocationFix{
		UserID:    7,
		Latitude:  52.53,
		Longitude: 13.41,
		Accuracy:  8,
		Provider:  "network",
	}
	current, err = store.RecordFix(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 52.53, current.Latitude)
	assert.Equal(t, "network", current.Provider)

	var count int64
	require.NoError(t, db.Model(&models.CurrentLocation{}).Where("user_id = ?", 7).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// 轨迹每次上报都追加
	require.NoError(t, db.Model(&models.LocationHistory{}).Where("user_id = ?", 7).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestRecordFixRejectsBadCoordinates(t *testing.T) {
	store := NewStore(newTestDB(t), nil, nil)

	_, err := store.RecordFix(context.Background(), models.LocationFix{
		UserID:   7,
		Latitude: 123.4,
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestCurrentMissingUser(t *testing.T) {
	store := NewStore(newTestDB(t), nil, nil)

	current, err := store.Current(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestHistoryNewestFirst(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil, nil)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendHistory(ctx, models.LocationFix{
			UserID:    3,
			Latitude:  52.5 + float64(i)*0.001,
			Longitude: 13.4,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	history, err := store.History(ctx, 3, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, history[0].Timestamp.After(history[1].Timestamp))
	assert.True(t, history[1].Timestamp.After(history[2].Timestamp))
}

func TestUsersWithinRadius(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil, nil)
	ctx := context.Background()

	// 柏林市中心、柏林近郊、巴黎
	seed := []models.LocationFix{
		{UserID: 1, Latitude: 52.52, Longitude: 13.405},
		{UserID: 2, Latitude: 52.53, Longitude: 13.41},
		{UserID: 3, Latitude: 48.8566, Longitude: 2.3522},
	}
	for _, fix := range seed {
		_, err := store.UpsertCurrent(ctx, fix)
		require.NoError(t, err)
	}

	nearby, err := store.UsersWithinRadius(ctx, 52.52, 13.405, 5, 10)
	require.NoError(t, err)
	require.Len(t, nearby, 2)
	// 按距离升序
	assert.Equal(t, uint(1), nearby[0].UserID)
	assert.Equal(t, uint(2), nearby[1].UserID)
	assert.Less(t, nearby[0].DistanceKm, nearby[1].DistanceKm)

	// 大半径把巴黎也包进来
	all, err := store.UsersWithinRadius(ctx, 52.52, 13.405, 1000, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPurgeOlderThan(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil, nil)
	ctx := context.Background()

	old := models.LocationHistory{
		UserID:    5,
		Latitude:  52.52,
		Longitude: 13.405,
		Timestamp: time.Now().AddDate(0, 0, -40),
	}
	fresh := models.LocationHistory{
		UserID:    5,
		Latitude:  52.52,
		Longitude: 13.405,
		Timestamp: time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Create(&fresh).Error)

	purged, err := store.PurgeOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	// 清理是幂等的
	purged, err = store.PurgeOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged)

	var count int64
	require.NoError(t, db.Model(&models.LocationHistory{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStats(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil, nil)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)
	fixes := []models.LocationFix{
		{UserID: 9, Latitude: 52.52, Longitude: 13.405, Accuracy: 10, Timestamp: day1},
		{UserID: 9, Latitude: 52.52, Longitude: 13.406, Accuracy: 20, Timestamp: day1.Add(time.Hour)},
		{UserID: 9, Latitude: 52.52, Longitude: 13.407, Accuracy: 30, Timestamp: day2},
	}
	for _, fix := range fixes {
		require.NoError(t, store.AppendHistory(ctx, fix))
	}

	stats, err := store.Stats(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalLocations)
	assert.InDelta(t, 20.0, stats.AvgAccuracy, 0.001)
	assert.Equal(t, int64(2), stats.ActiveDays)
	require.NotNil(t, stats.FirstLocation)
	require.NotNil(t, stats.LastLocation)
	assert.True(t, stats.LastLocation.After(*stats.FirstLocation))
}
