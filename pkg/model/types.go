package model

import "time"

type Project struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type HeldFlow struct {
	FlowID     string    `json:"flow_id"`
	CapturedAt time.Time `json:"captured_at"`
}

// HeldFlows 当前项目的挂起流镜像；FlowIDs 与 Flows 顺序一致
type HeldFlows struct {
	Project string     `json:"project"`
	FlowIDs []string   `json:"flow_ids"`
	Flows   []HeldFlow `json:"flows"`
}

type CapturedRequest struct {
	ID          uint       `json:"id"`
	Method      string     `json:"method"`
	URL         string     `json:"url"`
	RawRequest  string     `json:"raw_request"`
	RawResponse *string    `json:"raw_response"`
	StatusCode  *int       `json:"status_code"`
	DurationMS  *int64     `json:"duration_ms"`
	Timestamp   time.Time  `json:"timestamp"`
	CompletedAt *time.Time `json:"completed_at"`
	FlowID      string     `json:"flow_id"`
}

type InterceptState struct {
	Enabled bool `json:"enabled"`
}

type CurrentProject struct {
	ProjectID *uint    `json:"current_project_id"`
	Project   *Project `json:"project,omitempty"`
}

type SelectProjectRequest struct {
	ProjectID *uint `json:"project_id"`
}

type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ForwardRequest struct {
	EditedRequest *string `json:"edited_request,omitempty"`
}

// Accepted 命令已持久化排队，尚未被捕获进程应用
type Accepted struct {
	Message string `json:"message"`
	FlowID  string `json:"flow_id,omitempty"`
}

type Error struct {
	Error string `json:"error"`
}

type Health struct {
	Status  string `json:"status"`
	Project string `json:"project,omitempty"`
}
