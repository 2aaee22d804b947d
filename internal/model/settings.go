package model

import "time"

// AutoSettingID is the primary key of the single AutoSetting row.
const AutoSettingID = 1

// AutoSetting is the persisted auto on/off switch.
type AutoSetting struct {
	ID        int64 `gorm:"primaryKey"`
	Enabled   bool  `gorm:"not null;default:false"`
	UpdatedAt time.Time
}

// EmployeeInfoID is the primary key of the single EmployeeInfo row.
const EmployeeInfoID = 1

// EmployeeInfo caches the employee and location identifiers resolved from
// the upstream userinfo and geolocation endpoints.
type EmployeeInfo struct {
	ID               int64     `gorm:"primaryKey" json:"-"`
	EmployeeID       string    `gorm:"size:64;not null" json:"employeeID"`
	EmployeeNumber   string    `gorm:"size:64;not null" json:"employeeNumber"`
	LocationID       string    `gorm:"size:64;not null" json:"locationId"`
	RawUserInfo      string    `gorm:"type:text" json:"-"`
	RawFirstLocation string    `gorm:"type:text" json:"-"`
	UpdatedAt        time.Time `json:"lastUpdated"`
}

// AuditEntry is one line of the attendance audit log.
type AuditEntry struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	Date      string     `gorm:"size:10;index;not null" json:"date"`
	Kind      ActionKind `gorm:"size:16" json:"kind"`
	Trigger   string     `gorm:"size:16;not null" json:"trigger"` // auto | manual
	Outcome   string     `gorm:"size:48;not null" json:"outcome"`
	Message   string     `gorm:"size:1024" json:"message"`
	CreatedAt time.Time  `gorm:"not null" json:"createdAt"`
}
