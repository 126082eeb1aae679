package storage

import "time"

// Project 项目，名称唯一并决定存储命名空间
type Project struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProxyState 全局键值状态，即命令通道的存储
type ProxyState struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// CapturedRequest 捕获的请求；响应字段在完成时写入一次
type CapturedRequest struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Method      string     `gorm:"not null" json:"method"`
	URL         string     `gorm:"column:url;not null" json:"url"`
	RawRequest  string     `json:"raw_request"`
	RawResponse *string    `json:"raw_response"`
	StatusCode  *int       `json:"status_code"`
	DurationMS  *int64     `gorm:"column:duration_ms" json:"duration_ms"`
	Timestamp   time.Time  `gorm:"not null;index" json:"timestamp"`
	CompletedAt *time.Time `json:"completed_at"`
	FlowID      string     `gorm:"column:flow_id;index" json:"flow_id"`
}

// HeldFlow 挂起流镜像中的一行
type HeldFlow struct {
	FlowID     string    `gorm:"column:flow_id;primaryKey" json:"flow_id"`
	CapturedAt time.Time `gorm:"not null" json:"captured_at"`
}
