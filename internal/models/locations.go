package models

import "time"

// LocationFix 一次位置上报（来自移动端或HTTP入口）
type LocationFix struct {
	UserID       uint              `json:"userId"`
	AlertID      *string           `json:"alertId,omitempty"` // 关联警报的回引，可空
	Latitude     float64           `json:"latitude"`
	Longitude    float64           `json:"longitude"`
	Accuracy     float64           `json:"accuracy"`
	Altitude     *float64          `json:"altitude,omitempty"`
	Speed        *float64          `json:"speed,omitempty"`
	Heading      *float64          `json:"heading,omitempty"`
	Provider     string            `json:"provider"`
	BatteryLevel *int              `json:"batteryLevel,omitempty"`
	DeviceInfo   map[string]string `json:"deviceInfo,omitempty"`
	NetworkInfo  map[string]string `json:"networkInfo,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// CurrentLocation 用户当前位置，每个用户恰好一行，后写覆盖
type CurrentLocation struct {
	ID           uint      `gorm:"primaryKey"`
	UserID       uint      `gorm:"uniqueIndex" json:"userId"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Accuracy     float64   `json:"accuracy"`
	Altitude     *float64  `json:"altitude"`
	Speed        *float64  `json:"speed"`
	Heading      *float64  `json:"heading"`
	Provider     string    `gorm:"size:20;default:gps" json:"provider"`
	BatteryLevel *int      `json:"batteryLevel"`
	DeviceInfo   string    `json:"deviceInfo"`
	NetworkInfo  string    `json:"networkInfo"`
	Address      *string   `gorm:"-" json:"address,omitempty"` // 惰性解析，不落库
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// LocationHistory 位置轨迹，只追加，写入后不可变
type LocationHistory struct {
	ID           uint      `gorm:"primaryKey"`
	UserID       uint      `gorm:"index" json:"userId"`
	AlertID      *string   `gorm:"index;size:36" json:"alertId"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Accuracy     float64   `json:"accuracy"`
	Altitude     *float64  `json:"altitude"`
	Speed        *float64  `json:"speed"`
	Heading      *float64  `json:"heading"`
	Provider     string    `gorm:"size:20;default:gps" json:"provider"`
	BatteryLevel *int      `json:"batteryLevel"`
	Timestamp    time.Time `gorm:"index" json:"timestamp"`
}

// LocationStats 单用户轨迹统计
type LocationStats struct {
	TotalLocations int64      `json:"totalLocations"`
	FirstLocation  *time.Time `json:"firstLocation"`
	LastLocation   *time.Time `json:"lastLocation"`
	AvgAccuracy    float64    `json:"avgAccuracy"`
	ActiveDays     int64      `json:"activeDays"`
}

// NearbyUser 半径查询结果：当前位置加上到圆心的距离
type NearbyUser struct {
	CurrentLocation
	DistanceKm float64 `json:"distanceKm"`
}
