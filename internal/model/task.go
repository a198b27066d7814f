package model

import (
	"encoding/json"
	"time"
)

// Task status
type TaskStatus string

const (
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusError      TaskStatus = "error"
	TaskStatusNotFound   TaskStatus = "not_found"
)

// Terminal reports whether s is a final status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusError
}

// Task kinds
const (
	TaskKindSeparation = "separation"
	TaskKindGeneration = "generation"
	TaskKindMix        = "mix"
	TaskKindBlend      = "blend"
	TaskKindSmartMix   = "smartmix"
)

// Task is a background operation tracked from submission to its single
// terminal transition
type Task struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind,omitempty"`
	Status      TaskStatus      `json:"status"`
	Progress    int             `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	File        string          `json:"file,omitempty"`
	URL         string          `json:"url,omitempty"`
	Message     string          `json:"message,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Outcome is what a finished operation hands back to the orchestrator
type Outcome struct {
	Status  TaskStatus
	Result  interface{}
	File    string
	URL     string
	Message string
}

// Completed builds a successful outcome
func Completed(result interface{}, file string) Outcome {
	return Outcome{Status: TaskStatusCompleted, Result: result, File: file}
}

// Failed builds an error outcome
func Failed(message string) Outcome {
	return Outcome{Status: TaskStatusError, Message: message}
}

// SubmitResponse is returned when a task is accepted
type SubmitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// SeparationPayload is the job payload for a stem separation
type SeparationPayload struct {
	InputPath     string `json:"input_path"`
	DurationLimit int    `json:"duration_limit"`
	VocalsOnly    bool   `json:"vocals_only"`
	TurboPreview  bool   `json:"turbo_preview"`
}

// GenerationPayload is the job payload for clip generation
type GenerationPayload struct {
	Prompt       string `json:"prompt"`
	Language     string `json:"language"`
	DurationHint int    `json:"duration_hint"`
	OutputName   string `json:"output_name"`
}

// MixPayload is the job payload for a stem volume mix
type MixPayload struct {
	StemsDir   string             `json:"stems_dir"`
	Volumes    map[string]float64 `json:"volumes"`
	Mood       string             `json:"mood,omitempty"`
	Genre      string             `json:"genre,omitempty"`
	OutputName string             `json:"output_name"`
}

// BlendPayload is the job payload for a two-track blend
type BlendPayload struct {
	TrackA     string  `json:"track_a"`
	TrackB     string  `json:"track_b"`
	BlendRatio float64 `json:"blend_ratio"`
	Mood       string  `json:"mood,omitempty"`
	Genre      string  `json:"genre,omitempty"`
	OutputName string  `json:"output_name"`
}

// SmartMixPayload is the job payload for vocals-over-instrumental mixing
type SmartMixPayload struct {
	VocalsPath       string `json:"vocals_path"`
	InstrumentalPath string `json:"instrumental_path"`
	Mood             string `json:"mood,omitempty"`
	Genre            string `json:"genre,omitempty"`
	DurationLimit    int    `json:"duration_limit"`
	TurboPreview     bool   `json:"turbo_preview"`
	OutputName       string `json:"output_name"`
}

// MixRequest is the body of a stem mix request
type MixRequest struct {
	StemsDir string             `json:"stems_dir" validate:"required"`
	Volumes  map[string]float64 `json:"volumes" validate:"dive,keys,oneof=vocals drums bass other,endkeys,gte=0,lte=4"`
	Mood     string             `json:"mood" validate:"omitempty,max=32,excludesall=/\\,excludes=.."`
	Genre    string             `json:"genre" validate:"omitempty,max=32,excludesall=/\\,excludes=.."`
}

// GenerateRequest holds the query parameters of a generation request
type GenerateRequest struct {
	Mood     string `query:"mood" validate:"required,max=32,excludesall=/\\,excludes=.."`
	Genre    string `query:"genre" validate:"required,max=32,excludesall=/\\,excludes=.."`
	Language string `query:"language" validate:"required,max=32,excludesall=/\\,excludes=.."`
}

// BlendRequest holds the form and query parameters of a two-file mix
type BlendRequest struct {
	BlendRatio float64 `query:"blend_ratio" form:"blend_ratio" validate:"gte=0,lte=1"`
	Mood       string  `query:"mood" form:"mood" validate:"omitempty,max=32,excludesall=/\\,excludes=.."`
	Genre      string  `query:"genre" form:"genre" validate:"omitempty,max=32,excludesall=/\\,excludes=.."`
	Async      bool    `query:"async" form:"async"`
}

// SeparationRequest holds the flags of a remix or smart mix request
type SeparationRequest struct {
	FastMode  bool   `query:"fast_mode" form:"fast_mode"`
	TurboMode bool   `query:"turbo_mode" form:"turbo_mode"`
	Mood      string `query:"mood" form:"mood" validate:"omitempty,max=32,excludesall=/\\,excludes=.."`
	Genre     string `query:"genre" form:"genre" validate:"omitempty,max=32,excludesall=/\\,excludes=.."`
}

// MixResponse is the synchronous answer of a mix or two-file mix
type MixResponse struct {
	Status  string `json:"status"`
	File    string `json:"file,omitempty"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
}
