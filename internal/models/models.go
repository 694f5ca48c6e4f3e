package models

import "time"

// JobKind is the media type a job was submitted with.
type JobKind string

const (
	KindImage JobKind = "image"
	KindVideo JobKind = "video"
)

// ParseKind maps the upload type discriminator to a JobKind.
func ParseKind(s string) (JobKind, bool) {
	switch JobKind(s) {
	case KindImage, KindVideo:
		return JobKind(s), true
	}
	return "", false
}

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Stage is a step of the video pipeline. Image jobs only go through
// StageInit, StageRemoving and StageDone.
type Stage string

const (
	StageInit       Stage = "init"
	StageExtracting Stage = "extracting"
	StageBatch      Stage = "batch_processing"
	StageAssembling Stage = "assembling"
	StageCleanup    Stage = "cleanup"
	StageRemoving   Stage = "removing"
	StageDone       Stage = "done"
)

// Job represents one image or video submission
type Job struct {
	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	Status      JobStatus  `json:"status"`
	Stage       Stage      `json:"stage"`
	SourceName  string     `json:"source_name"`
	InputPath   string     `json:"input_path"`
	OutputPath  string     `json:"output_path,omitempty"`
	ArchiveKey  string     `json:"archive_key,omitempty"`
	FrameCount  int        `json:"frame_count"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func NewJob(id string, kind JobKind, sourceName, inputPath string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:         id,
		Kind:       kind,
		Status:     StatusPending,
		Stage:      StageInit,
		SourceName: sourceName,
		InputPath:  inputPath,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (j *Job) MarkStage(stage Stage) {
	j.Status = StatusRunning
	j.Stage = stage
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) MarkCompleted(outputPath string) {
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.Stage = StageDone
	j.OutputPath = outputPath
	j.UpdatedAt = now
	j.CompletedAt = &now
}

// MarkFailed records the error. Stage keeps the step that failed.
func (j *Job) MarkFailed(err error) {
	j.Status = StatusFailed
	if err != nil {
		j.Error = err.Error()
	}
	j.UpdatedAt = time.Now().UTC()
}

// Finished reports whether the job reached a terminal status.
func (j *Job) Finished() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}
