package location

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"BeaconRelay/internal/models"
	"BeaconRelay/pkg/errors"
	"BeaconRelay/pkg/geocode"
)

const earthRadiusKm = 6371

// DefaultHistoryLimit 历史查询默认条数
const DefaultHistoryLimit = 50

// Store 位置存储：每用户一行当前位置 + 只追加的轨迹历史
type Store struct {
	db       *gorm.DB
	resolver geocode.Resolver
	logger   *zap.Logger
}

// NewStore 创建位置存储
func NewStore(db *gorm.DB, resolver geocode.Resolver, logger *zap.Logger) *Store {
	if resolver == nil {
		resolver = geocode.Disabled{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, resolver: resolver, logger: logger}
}

// ValidateCoordinates 校验坐标范围
func ValidateCoordinates(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return errors.Validation("latitude %v out of range [-90, 90]", lat)
	}
	if lng < -180 || lng > 180 {
		return errors.Validation("longitude %v out of range [-180, 180]", lng)
	}
	return nil
}

// UpsertCurrent 写入用户当前位置：首次插入，其后按user_id覆盖（last-writer-wins）
func (s *Store) UpsertCurrent(ctx context.Context, fix models.LocationFix) (*models.CurrentLocation, error) {
	if err := ValidateCoordinates(fix.Latitude, fix.Longitude); err != nil {
		return nil, err
	}
	if fix.UserID == 0 {
		return nil, errors.Validation("missing user id")
	}

	row := fixToCurrent(fix)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"latitude", "longitude", "accuracy", "altitude", "speed", "heading",
			"provider", "battery_level", "device_info", "network_info", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return nil, errors.Persistence(err, "failed to upsert current location")
	}

	var stored models.CurrentLocation
	if err := s.db.WithContext(ctx).Where("user_id = ?", fix.UserID).First(&stored).Error; err != nil {
		return nil, errors.Persistence(err, "failed to read back current location")
	}
	s.attachAddress(ctx, &stored)
	return &stored, nil
}

// AppendHistory 追加一条轨迹记录；是否关联警报不影响写入
func (s *Store) AppendHistory(ctx context.Context, fix models.LocationFix) error {
	if err := ValidateCoordinates(fix.Latitude, fix.Longitude); err != nil {
		return err
	}
	if fix.UserID == 0 {
		return errors.Validation("missing user id")
	}

	ts := fix.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	row := &models.LocationHistory{
		UserID:       fix.UserID,
		AlertID:      fix.AlertID,
		Latitude:     fix.Latitude,
		Longitude:    fix.Longitude,
		Accuracy:     fix.Accuracy,
		Altitude:     fix.Altitude,
		Speed:        fix.Speed,
		Heading:      fix.Heading,
		Provider:     providerOrDefault(fix.Provider),
		BatteryLevel: fix.BatteryLevel,
		Timestamp:    ts,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return errors.Persistence(err, "failed to append location history")
	}
	return nil
}

// RecordFix 入口用的一站式写入：覆盖当前位置并追加历史
func (s *Store) RecordFix(ctx context.Context, fix models.LocationFix) (*models.CurrentLocation, error) {
	current, err := s.UpsertCurrent(ctx, fix)
	if err != nil {
		return nil, err
	}
	if err := s.AppendHistory(ctx, fix); err != nil {
		return nil, err
	}
	return current, nil
}

// Current 查询用户当前位置；不存在时返回 (nil, nil) 而非错误
func (s *Store) Current(ctx context.Context, userID uint) (*models.CurrentLocation, error) {
	var row models.CurrentLocation
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Persistence(err, "failed to query current location")
	}
	s.attachAddress(ctx, &row)
	return &row, nil
}

// History 查询用户轨迹，最新在前
func (s *Store) History(ctx context.Context, userID uint, limit int) ([]models.LocationHistory, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var rows []models.LocationHistory
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Persistence(err, "failed to query location history")
	}
	return rows, nil
}

// UsersWithinRadius 大圆距离半径查询，按距离升序
func (s *Store) UsersWithinRadius(ctx context.Context, centerLat, centerLng, radiusKm float64, limit int) ([]models.NearbyUser, error) {
	if err := ValidateCoordinates(centerLat, centerLng); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		return nil, errors.Validation("radius must be positive")
	}
	if limit <= 0 {
		limit = 100
	}

	var candidates []models.CurrentLocation
	if err := s.db.WithContext(ctx).Find(&candidates).Error; err != nil {
		return nil, errors.Persistence(err, "failed to scan current locations")
	}

	nearby := make([]models.NearbyUser, 0)
	for _, loc := range candidates {
		d := haversineKm(centerLat, centerLng, loc.Latitude, loc.Longitude)
		if d <= radiusKm {
			nearby = append(nearby, models.NearbyUser{CurrentLocation: loc, DistanceKm: d})
		}
	}
	sort.Slice(nearby, func(i, j int) bool { return nearby[i].DistanceKm < nearby[j].DistanceKm })
	if len(nearby) > limit {
		nearby = nearby[:limit]
	}
	return nearby, nil
}

// PurgeOlderThan 删除超出保留期的轨迹，返回删除行数。
// 游标是调用时刻的严格截止线，因此与写入并发执行时不会误删新行；幂等
func (s *Store) PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.Validation("retention days must be positive")
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.LocationHistory{})
	if result.Error != nil {
		return 0, errors.Persistence(result.Error, "failed to purge location history")
	}
	if result.RowsAffected > 0 {
		s.logger.Info("purged old location history",
			zap.Int64("rows", result.RowsAffected),
			zap.Time("cutoff", cutoff))
	}
	return result.RowsAffected, nil
}

// Stats 单用户轨迹统计
func (s *Store) Stats(ctx context.Context, userID uint) (*models.LocationStats, error) {
	var agg struct {
		Total int64
		First *time.Time
		Last  *time.Time
		Avg   *float64
	}
	err := s.db.WithContext(ctx).
		Model(&models.LocationHistory{}).
		Select("COUNT(*) as total, MIN(timestamp) as first, MAX(timestamp) as last, AVG(accuracy) as avg").
		Where("user_id = ?", userID).
		Scan(&agg).Error
	if err != nil {
		return nil, errors.Persistence(err, "failed to aggregate location stats")
	}

	stats := &models.LocationStats{
		TotalLocations: agg.Total,
		FirstLocation:  agg.First,
		LastLocation:   agg.Last,
	}
	if agg.Avg != nil {
		stats.AvgAccuracy = *agg.Avg
	}
	if agg.Total == 0 {
		return stats, nil
	}

	// 活跃天数按日历日去重，跨数据库方言没有统一的日期截断函数，在内存里算
	var timestamps []time.Time
	err = s.db.WithContext(ctx).
		Model(&models.LocationHistory{}).
		Where("user_id = ?", userID).
		Pluck("timestamp", &timestamps).Error
	if err != nil {
		return nil, errors.Persistence(err, "failed to load timestamps for stats")
	}
	days := make(map[string]struct{}, len(timestamps))
	for _, ts := range timestamps {
		days[ts.Format("2006-01-02")] = struct{}{}
	}
	stats.ActiveDays = int64(len(days))
	return stats, nil
}

// attachAddress 尽力解析地址；失败保持为空，不影响读取
func (s *Store) attachAddress(ctx context.Context, loc *models.CurrentLocation) {
	if addr, ok := s.resolver.Resolve(ctx, loc.Latitude, loc.Longitude); ok {
		loc.Address = &addr
	}
}

func fixToCurrent(fix models.LocationFix) *models.CurrentLocation {
	return &models.CurrentLocation{
		UserID:       fix.UserID,
		Latitude:     fix.Latitude,
		Longitude:    fix.Longitude,
		Accuracy:     fix.Accuracy,
		Altitude:     fix.Altitude,
		Speed:        fix.Speed,
		Heading:      fix.Heading,
		Provider:     providerOrDefault(fix.Provider),
		BatteryLevel: fix.BatteryLevel,
		DeviceInfo:   marshalMeta(fix.DeviceInfo),
		NetworkInfo:  marshalMeta(fix.NetworkInfo),
	}
}

func providerOrDefault(provider string) string {
	if provider == "" {
		return "gps"
	}
	return provider
}

func marshalMeta(meta map[string]string) string {
	if len(meta) == 0 {
		return "{}"
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// haversineKm 两点间大圆距离（公里）
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func toRadians(degrees float64) float64 {
	return degrees * (math.Pi / 180)
}
