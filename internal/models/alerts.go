package models

import "time"

// 警报状态机
const (
	AlertStatusActive       = "active"       // 初始状态
	AlertStatusAcknowledged = "acknowledged" // 已有接警员确认
	AlertStatusResponding   = "responding"   // 现场处置中
	AlertStatusResolved     = "resolved"     // 终态
	AlertStatusFalseAlarm   = "false_alarm"  // 终态（误报）
)

// DefaultAlertPriority 默认优先级：4 = critical
const DefaultAlertPriority = 4

// DefaultAlertType 默认警报类型
const DefaultAlertType = "panic_button"

// IsTerminalStatus 终态判断：终态警报不再接受任何状态迁移
func IsTerminalStatus(status string) bool {
	return status == AlertStatusResolved || status == AlertStatusFalseAlarm
}

// ActiveStatuses 未闭环的状态集合
func ActiveStatuses() []string {
	return []string{AlertStatusActive, AlertStatusAcknowledged, AlertStatusResponding}
}

// Alert 紧急警报（panic alert）
// 由用户会话或HTTP入口创建，只被接警员操作修改，永不删除
type Alert struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	UserID            uint       `gorm:"index" json:"userId"`
	AlertType         string     `gorm:"size:20;default:panic_button" json:"alertType"`
	Status            string     `gorm:"size:20;index;default:active" json:"status"`
	Priority          int        `gorm:"index;default:4" json:"priority"`
	Latitude          float64    `json:"latitude"`
	Longitude         float64    `json:"longitude"`
	Accuracy          float64    `json:"accuracy"`
	Address           *string    `json:"address"` // 逆地理编码结果，惰性填充
	Description       string     `json:"description"`
	IsSilent          bool       `json:"isSilent"`
	AutoCallEmergency bool       `json:"autoCallEmergency"`
	AssignedOperator  *uint      `json:"assignedOperator"`
	OperatorNotes     string     `json:"operatorNotes"` // 只追加的审计文本
	DeviceInfo        string     `json:"deviceInfo"`
	NetworkInfo       string     `json:"networkInfo"`
	CreatedAt         time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	AcknowledgedAt    *time.Time `json:"acknowledgedAt"` // 仅在进入acknowledged时写入一次
	ResolvedAt        *time.Time `json:"resolvedAt"`     // 仅在进入终态时写入一次
}

// AlertStats 警报聚合统计
type AlertStats struct {
	TotalAlerts        int64   `json:"totalAlerts"`
	ActiveAlerts       int64   `json:"activeAlerts"`
	AcknowledgedAlerts int64   `json:"acknowledgedAlerts"`
	RespondingAlerts   int64   `json:"respondingAlerts"`
	ResolvedAlerts     int64   `json:"resolvedAlerts"`
	FalseAlarms        int64   `json:"falseAlarms"`
	EmergencyAlerts    int64   `json:"emergencyAlerts"` // priority = 5
	CriticalAlerts     int64   `json:"criticalAlerts"`  // priority = 4
	AvgResolutionMins  float64 `json:"avgResolutionMinutes"`
}
