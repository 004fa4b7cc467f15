// Package cloner defines core types shared across the cloning subsystems.
package cloner

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a clone job.
type JobStatus string

// Job status values. Completed and Failed are terminal.
const (
	JobStatusPending      JobStatus = "pending"
	JobStatusDiscovering  JobStatus = "discovering"
	JobStatusCapturing    JobStatus = "capturing"
	JobStatusEmbedding    JobStatus = "embedding"
	JobStatusTransforming JobStatus = "transforming"
	JobStatusRewriting    JobStatus = "rewriting"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Request captures the per-job options supplied by the caller.
type Request struct {
	URL           string `json:"url"`
	Model         string `json:"model"`
	FullSite      bool   `json:"full_site"`
	MaxPages      int    `json:"max_pages"`
	IncludeAssets bool   `json:"include_assets"`
}

// Job is the registry record for one clone request.
type Job struct {
	ID             string            `json:"job_id"`
	Request        Request           `json:"request"`
	Status         JobStatus         `json:"status"`
	Progress       string            `json:"progress"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	Result         *SinglePageResult `json:"result,omitempty"`
	FullSiteResult *FullSiteResult   `json:"full_site_result,omitempty"`
	ArtifactURI    string            `json:"artifact_uri,omitempty"`
}

// Metadata is the basic page information extracted during capture.
type Metadata struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	ViewportWidth  int     `json:"viewport_width"`
	ViewportHeight int     `json:"viewport_height"`
	LoadTime       float64 `json:"load_time"`
	AssetsCount    int     `json:"assets_count"`
}

// CapturedPage is the output of rendering one URL.
type CapturedPage struct {
	URL        string   `json:"url"`
	HTML       string   `json:"html"`
	Screenshot []byte   `json:"screenshot,omitempty"`
	Metadata   Metadata `json:"metadata"`
	Assets     []string `json:"assets"`
	Renderer   string   `json:"renderer"`
}

// AssetKind classifies an embedded resource.
type AssetKind string

// Asset kinds in embedding order. Nested covers url() references found inside stylesheets.
const (
	AssetStylesheet AssetKind = "stylesheet"
	AssetImage      AssetKind = "image"
	AssetScript     AssetKind = "script"
	AssetFont       AssetKind = "font"
	AssetNested     AssetKind = "nested"
)

// Asset is a downloaded resource held in a job's asset cache.
type Asset struct {
	URL         string
	Kind        AssetKind
	ContentType string
	Data        []byte
}

// Text returns the asset body decoded as text (CSS and JS assets).
func (a Asset) Text() string {
	return string(a.Data)
}

// Ref returns the lightweight descriptor reported in results.
func (a Asset) Ref() AssetRef {
	return AssetRef{URL: a.URL, Kind: a.Kind, ContentType: a.ContentType, Size: len(a.Data)}
}

// AssetRef describes an embedded asset without carrying its bytes.
type AssetRef struct {
	URL         string    `json:"url"`
	Kind        AssetKind `json:"type"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
}

// SitePage is one output unit of a full-site clone.
type SitePage struct {
	URL         string     `json:"url"`
	Path        string     `json:"path"`
	HTML        string     `json:"html"`
	CSS         string     `json:"css"`
	Screenshot  []byte     `json:"screenshot,omitempty"`
	Assets      []AssetRef `json:"assets"`
	Metadata    Metadata   `json:"metadata"`
	Transformed bool       `json:"transformed"`
	Reasoning   string     `json:"reasoning,omitempty"`
}

// FullSiteResult is the terminal artifact of a full-site job.
type FullSiteResult struct {
	BaseURL     string     `json:"base_url"`
	Pages       []SitePage `json:"pages"`
	Assets      []AssetRef `json:"assets"`
	Sitemap     []string   `json:"sitemap"`
	CloneTime   float64    `json:"clone_time"`
	TotalPages  int        `json:"total_pages"`
	TotalAssets int        `json:"total_assets"`
	ModelUsed   string     `json:"model_used"`
	Failures    []Failure  `json:"failures,omitempty"`
}

// SinglePageResult is the terminal artifact of a single-page job.
type SinglePageResult struct {
	URL            string   `json:"url"`
	HTML           string   `json:"html"`
	CSS            string   `json:"css"`
	Reasoning      string   `json:"reasoning"`
	ModelUsed      string   `json:"model_used"`
	ProcessingTime float64  `json:"processing_time"`
	Screenshot     []byte   `json:"screenshot,omitempty"`
	Metadata       Metadata `json:"metadata"`
	Transformed    bool     `json:"transformed"`
}

// FailureStage names the pipeline step where a per-item failure occurred.
type FailureStage string

// Failure stages recorded on results.
const (
	StageDiscover  FailureStage = "discover"
	StageCapture   FailureStage = "capture"
	StageAsset     FailureStage = "asset"
	StageTransform FailureStage = "transform"
	StageRewrite   FailureStage = "rewrite"
)

// Failure is a non-fatal, per-page or per-asset error absorbed by the pipeline.
type Failure struct {
	Stage FailureStage `json:"stage"`
	URL   string       `json:"url"`
	Err   string       `json:"error"`
}

// NewFailure builds a Failure from an error value.
func NewFailure(stage FailureStage, url string, err error) Failure {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Failure{Stage: stage, URL: url, Err: msg}
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %s", f.Stage, f.URL, f.Err)
}

// Outcome is the discriminant of RenderResult.
type Outcome int

// Render outcomes.
const (
	OutcomeOK Outcome = iota
	OutcomeRejected
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// RenderResult is returned by renderers instead of signalling rejection through errors.
type RenderResult struct {
	Outcome Outcome
	Page    CapturedPage
	Reason  string
	Err     error
}

// RenderOK wraps a successfully rendered page.
func RenderOK(page CapturedPage) RenderResult {
	return RenderResult{Outcome: OutcomeOK, Page: page}
}

// RenderRejected reports a render that completed but produced unusable content.
func RenderRejected(reason string) RenderResult {
	return RenderResult{Outcome: OutcomeRejected, Reason: reason}
}

// RenderFailed reports a render that could not complete.
func RenderFailed(err error) RenderResult {
	if err == nil {
		err = errors.New("render failed")
	}
	return RenderResult{Outcome: OutcomeFailed, Reason: err.Error(), Err: err}
}

// TransformInput is handed to the external transformation capability.
type TransformInput struct {
	Page  CapturedPage
	Model string
}

// TransformOutput is the transformed document plus rationale.
type TransformOutput struct {
	HTML      string
	CSS       string
	Reasoning string
	ModelUsed string
	Duration  time.Duration
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Submitted time.Time
}
