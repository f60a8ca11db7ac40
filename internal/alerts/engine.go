package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"BeaconRelay/internal/location"
	"BeaconRelay/internal/models"
	"BeaconRelay/pkg/errors"
	"BeaconRelay/pkg/geocode"
	"BeaconRelay/pkg/notification"
)

// DefaultListLimit 列表查询默认条数
const DefaultListLimit = 100

// Engine 警报生命周期引擎：创建、状态迁移、检索与统计。
// 每次迁移是一条带状态前置条件的UPDATE，并发竞争时只有第一个生效，
// 其余观察到新状态并得到非法迁移错误
type Engine struct {
	db         *gorm.DB
	resolver   geocode.Resolver
	dispatcher *notification.Dispatcher
	logger     *zap.Logger
}

// NewEngine 创建警报引擎
func NewEngine(db *gorm.DB, resolver geocode.Resolver, dispatcher *notification.Dispatcher, logger *zap.Logger) *Engine {
	if resolver == nil {
		resolver = geocode.Disabled{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: db, resolver: resolver, dispatcher: dispatcher, logger: logger}
}

// CreateRequest 创建警报的入参
type CreateRequest struct {
	UserID            uint              `json:"userId"`
	Latitude          float64           `json:"latitude"`
	Longitude         float64           `json:"longitude"`
	Accuracy          float64           `json:"accuracy"`
	AlertType         string            `json:"alertType"`
	Description       string            `json:"description"`
	Priority          int               `json:"priority"`
	IsSilent          bool              `json:"isSilent"`
	AutoCallEmergency bool              `json:"autoCallEmergency"`
	DeviceInfo        map[string]string `json:"deviceInfo,omitempty"`
	NetworkInfo       map[string]string `json:"networkInfo,omitempty"`
}

// SearchFilter 组合检索条件，各条件取交集
type SearchFilter struct {
	UserID    *uint
	Status    string
	Priority  *int
	AlertType string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
}

// Create 创建警报：生成id、写库、追加轨迹回引、异步升级通报。
// 通报失败不回滚——警报绝不能因下游失败而丢失
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*models.Alert, error) {
	if err := location.ValidateCoordinates(req.Latitude, req.Longitude); err != nil {
		return nil, err
	}
	if req.UserID == 0 {
		return nil, errors.Validation("missing user id")
	}

	alert := &models.Alert{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		AlertType:         typeOrDefault(req.AlertType),
		Status:            models.AlertStatusActive,
		Priority:          clampPriority(req.Priority),
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
		Accuracy:          req.Accuracy,
		Description:       req.Description,
		IsSilent:          req.IsSilent,
		AutoCallEmergency: req.AutoCallEmergency,
		DeviceInfo:        marshalMeta(req.DeviceInfo),
		NetworkInfo:       marshalMeta(req.NetworkInfo),
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(alert).Error; err != nil {
			return err
		}
		// 轨迹里记一笔带警报回引的位置
		history := &models.LocationHistory{
			UserID:    req.UserID,
			AlertID:   &alert.ID,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Accuracy:  req.Accuracy,
			Provider:  "gps",
			Timestamp: time.Now(),
		}
		return tx.Create(history).Error
	})
	if err != nil {
		return nil, errors.Persistence(err, "failed to create alert")
	}

	if e.dispatcher != nil {
		e.dispatcher.EnqueueAlert(toPayload(alert))
	}

	e.logger.Info("panic alert created",
		zap.String("alert_id", alert.ID),
		zap.Uint("user_id", alert.UserID),
		zap.Int("priority", alert.Priority))
	return alert, nil
}

// Acknowledge active → acknowledged；写入acknowledged_at，未指派时指派接警员
func (e *Engine) Acknowledge(ctx context.Context, alertID string, operatorID uint, notes string) (*models.Alert, error) {
	return e.transition(ctx, alertID, operatorID, notes, transitionSpec{
		target:  models.AlertStatusAcknowledged,
		allowed: []string{models.AlertStatusActive},
		setAck:  true,
	})
}

// Resolve active|acknowledged|responding → resolved；写入resolved_at
func (e *Engine) Resolve(ctx context.Context, alertID string, operatorID uint, notes string) (*models.Alert, error) {
	return e.transition(ctx, alertID, operatorID, notes, transitionSpec{
		target:      models.AlertStatusResolved,
		allowed:     []string{models.AlertStatusActive, models.AlertStatusAcknowledged, models.AlertStatusResponding},
		setResolved: true,
	})
}

// MarkResponding active|acknowledged → responding，表示已开始现场处置
func (e *Engine) MarkResponding(ctx context.Context, alertID string, operatorID uint, notes string) (*models.Alert, error) {
	return e.transition(ctx, alertID, operatorID, notes, transitionSpec{
		target:  models.AlertStatusResponding,
		allowed: []string{models.AlertStatusActive, models.AlertStatusAcknowledged},
	})
}

// MarkFalseAlarm 任意非终态 → false_alarm，人工误报裁定
func (e *Engine) MarkFalseAlarm(ctx context.Context, alertID string, operatorID uint, notes string) (*models.Alert, error) {
	return e.transition(ctx, alertID, operatorID, notes, transitionSpec{
		target:      models.AlertStatusFalseAlarm,
		allowed:     models.ActiveStatuses(),
		setResolved: true,
	})
}

type transitionSpec struct {
	target      string
	allowed     []string
	setAck      bool
	setResolved bool
}

func (e *Engine) transition(ctx context.Context, alertID string, operatorID uint, notes string, spec transitionSpec) (*models.Alert, error) {
	if alertID == "" {
		return nil, errors.Validation("missing alert id")
	}
	if operatorID == 0 {
		return nil, errors.InvalidTransition("transition to %s requires an operator id", spec.target)
	}

	var updated models.Alert
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		updates := map[string]interface{}{
			"status":     spec.target,
			"updated_at": now,
		}
		if spec.setAck {
			updates["acknowledged_at"] = now
		}
		if spec.setResolved {
			updates["resolved_at"] = now
		}

		// 状态前置条件即并发守卫：竞争的第二个操作影响0行
		result := tx.Model(&models.Alert{}).
			Where("id = ? AND status IN ?", alertID, spec.allowed).
			Updates(updates)
		if result.Error != nil {
			return errors.Persistence(result.Error, "failed to update alert status")
		}
		if result.RowsAffected == 0 {
			var current models.Alert
			err := tx.Where("id = ?", alertID).First(&current).Error
			if err == gorm.ErrRecordNotFound {
				return errors.NotFound("alert %s not found", alertID)
			}
			if err != nil {
				return errors.Persistence(err, "failed to load alert")
			}
			return errors.InvalidTransition("alert %s is %s, cannot transition to %s",
				alertID, current.Status, spec.target)
		}

		if err := tx.Where("id = ?", alertID).First(&updated).Error; err != nil {
			return errors.Persistence(err, "failed to reload alert")
		}

		extra := map[string]interface{}{
			"operator_notes": appendNoteLine(updated.OperatorNotes, spec.target, operatorID, notes),
		}
		if updated.AssignedOperator == nil {
			extra["assigned_operator"] = operatorID
		}
		if err := tx.Model(&models.Alert{}).Where("id = ?", alertID).Updates(extra).Error; err != nil {
			return errors.Persistence(err, "failed to record transition notes")
		}
		return tx.Where("id = ?", alertID).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("alert transitioned",
		zap.String("alert_id", alertID),
		zap.String("status", spec.target),
		zap.Uint("operator_id", operatorID))
	return &updated, nil
}

// ByID 按id查询；地址缺失时惰性解析并缓存回记录，解析失败不影响读取
func (e *Engine) ByID(ctx context.Context, alertID string) (*models.Alert, error) {
	var alert models.Alert
	err := e.db.WithContext(ctx).Where("id = ?", alertID).First(&alert).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NotFound("alert %s not found", alertID)
	}
	if err != nil {
		return nil, errors.Persistence(err, "failed to load alert")
	}
	e.resolveAddress(ctx, &alert)
	return &alert, nil
}

// Active 未闭环的警报（active|acknowledged|responding），最新在前
func (e *Engine) Active(ctx context.Context, limit int) ([]models.Alert, error) {
	return e.list(ctx, limit, "status IN ?", []interface{}{models.ActiveStatuses()})
}

// ByUser 某用户的警报，最新在前
func (e *Engine) ByUser(ctx context.Context, userID uint, limit int) ([]models.Alert, error) {
	return e.list(ctx, limit, "user_id = ?", []interface{}{userID})
}

// ByStatus 按状态检索
func (e *Engine) ByStatus(ctx context.Context, status string, limit int) ([]models.Alert, error) {
	return e.list(ctx, limit, "status = ?", []interface{}{status})
}

// ByPriority 按优先级检索
func (e *Engine) ByPriority(ctx context.Context, priority int, limit int) ([]models.Alert, error) {
	return e.list(ctx, limit, "priority = ?", []interface{}{priority})
}

func (e *Engine) list(ctx context.Context, limit int, query string, args []interface{}) ([]models.Alert, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var rows []models.Alert
	err := e.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Persistence(err, "failed to list alerts")
	}
	return rows, nil
}

// Search 组合条件检索，各条件取交集，最新在前
func (e *Engine) Search(ctx context.Context, filter SearchFilter) ([]models.Alert, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	q := e.db.WithContext(ctx).Model(&models.Alert{})
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Priority != nil {
		q = q.Where("priority = ?", *filter.Priority)
	}
	if filter.AlertType != "" {
		q = q.Where("alert_type = ?", filter.AlertType)
	}
	if filter.StartDate != nil {
		q = q.Where("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		q = q.Where("created_at <= ?", *filter.EndDate)
	}

	var rows []models.Alert
	if err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, errors.Persistence(err, "failed to search alerts")
	}
	return rows, nil
}

// AssignOperator 显式改派接警员；终态警报拒绝改派
func (e *Engine) AssignOperator(ctx context.Context, alertID string, operatorID uint) (*models.Alert, error) {
	if operatorID == 0 {
		return nil, errors.Validation("missing operator id")
	}

	result := e.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ? AND status IN ?", alertID, models.ActiveStatuses()).
		Updates(map[string]interface{}{
			"assigned_operator": operatorID,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return nil, errors.Persistence(result.Error, "failed to assign operator")
	}
	if result.RowsAffected == 0 {
		var current models.Alert
		err := e.db.WithContext(ctx).Where("id = ?", alertID).First(&current).Error
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NotFound("alert %s not found", alertID)
		}
		if err != nil {
			return nil, errors.Persistence(err, "failed to load alert")
		}
		return nil, errors.InvalidTransition("alert %s is %s, cannot reassign", alertID, current.Status)
	}
	return e.ByID(ctx, alertID)
}

// AppendNotes 追加接警员备注，保留已有内容
func (e *Engine) AppendNotes(ctx context.Context, alertID string, notes string) (*models.Alert, error) {
	if notes == "" {
		return nil, errors.Validation("notes must not be empty")
	}

	var updated models.Alert
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Alert
		err := tx.Where("id = ?", alertID).First(&current).Error
		if err == gorm.ErrRecordNotFound {
			return errors.NotFound("alert %s not found", alertID)
		}
		if err != nil {
			return errors.Persistence(err, "failed to load alert")
		}

		combined := notes
		if current.OperatorNotes != "" {
			combined = current.OperatorNotes + "\n" + notes
		}
		err = tx.Model(&models.Alert{}).Where("id = ?", alertID).
			Updates(map[string]interface{}{"operator_notes": combined, "updated_at": time.Now()}).Error
		if err != nil {
			return errors.Persistence(err, "failed to append notes")
		}
		return tx.Where("id = ?", alertID).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Stats 聚合统计：各状态/优先级计数 + 已解决警报的平均处置时长（分钟）
func (e *Engine) Stats(ctx context.Context) (*models.AlertStats, error) {
	stats := &models.AlertStats{}

	type statusCount struct {
		Status string
		Count  int64
	}
	var byStatus []statusCount
	err := e.db.WithContext(ctx).Model(&models.Alert{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, errors.Persistence(err, "failed to count alerts by status")
	}
	for _, sc := range byStatus {
		stats.TotalAlerts += sc.Count
		switch sc.Status {
		case models.AlertStatusActive:
			stats.ActiveAlerts = sc.Count
		case models.AlertStatusAcknowledged:
			stats.AcknowledgedAlerts = sc.Count
		case models.AlertStatusResponding:
			stats.RespondingAlerts = sc.Count
		case models.AlertStatusResolved:
			stats.ResolvedAlerts = sc.Count
		case models.AlertStatusFalseAlarm:
			stats.FalseAlarms = sc.Count
		}
	}

	e.db.WithContext(ctx).Model(&models.Alert{}).Where("priority = ?", 5).Count(&stats.EmergencyAlerts)
	e.db.WithContext(ctx).Model(&models.Alert{}).Where("priority = ?", 4).Count(&stats.CriticalAlerts)

	// 平均处置时长：跨方言的时间差函数不统一，在内存里算
	type window struct {
		CreatedAt  time.Time
		ResolvedAt *time.Time
	}
	var windows []window
	err = e.db.WithContext(ctx).Model(&models.Alert{}).
		Select("created_at, resolved_at").
		Where("resolved_at IS NOT NULL").
		Scan(&windows).Error
	if err != nil {
		return nil, errors.Persistence(err, "failed to load resolution windows")
	}
	if len(windows) > 0 {
		var totalMins float64
		for _, w := range windows {
			totalMins += w.ResolvedAt.Sub(w.CreatedAt).Minutes()
		}
		stats.AvgResolutionMins = totalMins / float64(len(windows))
	}
	return stats, nil
}

// resolveAddress 惰性解析并缓存地址到记录上；失败维持为空
func (e *Engine) resolveAddress(ctx context.Context, alert *models.Alert) {
	if alert.Address != nil && *alert.Address != "" {
		return
	}
	addr, ok := e.resolver.Resolve(ctx, alert.Latitude, alert.Longitude)
	if !ok {
		return
	}
	alert.Address = &addr
	if err := e.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ?", alert.ID).
		Update("address", addr).Error; err != nil {
		e.logger.Warn("failed to cache resolved address", zap.String("alert_id", alert.ID), zap.Error(err))
	}
}

func appendNoteLine(existing, status string, operatorID uint, notes string) string {
	line := fmt.Sprintf("[%s by operator %d]", status, operatorID)
	if notes != "" {
		line += " " + notes
	}
	if existing == "" {
		return line
	}
	return existing + "\n" + line
}

func toPayload(alert *models.Alert) notification.AlertPayload {
	payload := notification.AlertPayload{
		AlertID:     alert.ID,
		UserID:      alert.UserID,
		AlertType:   alert.AlertType,
		Status:      alert.Status,
		Priority:    alert.Priority,
		Latitude:    alert.Latitude,
		Longitude:   alert.Longitude,
		Accuracy:    alert.Accuracy,
		Description: alert.Description,
		CreatedAt:   alert.CreatedAt,
	}
	if alert.Address != nil {
		payload.Address = *alert.Address
	}
	return payload
}

func typeOrDefault(alertType string) string {
	if alertType == "" {
		return models.DefaultAlertType
	}
	return alertType
}

func clampPriority(priority int) int {
	if priority == 0 {
		return models.DefaultAlertPriority
	}
	if priority < 1 {
		return 1
	}
	if priority > 5 {
		return 5
	}
	return priority
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
