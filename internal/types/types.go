// Package types defines the core data model shared by storage, the
// pipeline stages, and the CLI.
package types

import (
	"time"
)

// Source identifies the vendor export a message came from.
type Source string

const (
	SourceChatGPT Source = "chatgpt"
	SourceClaude  Source = "claude"
	SourceGrok    Source = "grok"
)

// ValidSource reports whether s is one of the known vendor sources.
func ValidSource(s Source) bool {
	switch s {
	case SourceChatGPT, SourceClaude, SourceGrok:
		return true
	}
	return false
}

// Role is the conversational role of a message atom.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RoleRank orders roles for deterministic output: user before assistant.
// This is intentional and NOT alphabetical order.
func RoleRank(r Role) int {
	if r == RoleUser {
		return 0
	}
	return 1
}

// Category is one of the closed set of 13 classification categories.
// Stored uppercase (the classifier's API form); topic ids lowercase them.
type Category string

const (
	CategoryWork           Category = "WORK"
	CategoryLearning       Category = "LEARNING"
	CategoryCreative       Category = "CREATIVE"
	CategoryMundane        Category = "MUNDANE"
	CategoryPersonal       Category = "PERSONAL"
	CategoryOther          Category = "OTHER"
	CategoryMedical        Category = "MEDICAL"
	CategoryMentalHealth   Category = "MENTAL_HEALTH"
	CategoryAddictionRecov Category = "ADDICTION_RECOVERY"
	CategoryIntimacy       Category = "INTIMACY"
	CategoryFinancial      Category = "FINANCIAL"
	CategoryLegal          Category = "LEGAL"
	CategoryEmbarrassing   Category = "EMBARRASSING"
)

// AllCategories is the closed category set, in declaration order.
var AllCategories = []Category{
	CategoryWork, CategoryLearning, CategoryCreative, CategoryMundane,
	CategoryPersonal, CategoryOther, CategoryMedical, CategoryMentalHealth,
	CategoryAddictionRecov, CategoryIntimacy, CategoryFinancial,
	CategoryLegal, CategoryEmbarrassing,
}

// StubCategories is the 6-category rotation used by the deterministic
// stub classifier, indexed by hash mod 6.
var StubCategories = []Category{
	CategoryWork, CategoryLearning, CategoryCreative,
	CategoryMundane, CategoryPersonal, CategoryOther,
}

// ValidCategory reports whether c belongs to the closed category set.
func ValidCategory(c Category) bool {
	for _, k := range AllCategories {
		if k == c {
			return true
		}
	}
	return false
}

// CategoryDisplayName returns the fixed Title-Case display name for a
// category; multi-word categories use a space ("MENTAL_HEALTH" ->
// "Mental Health").
func CategoryDisplayName(c Category) string {
	names := map[Category]string{
		CategoryWork:           "Work",
		CategoryLearning:       "Learning",
		CategoryCreative:       "Creative",
		CategoryMundane:        "Mundane",
		CategoryPersonal:       "Personal",
		CategoryOther:          "Other",
		CategoryMedical:        "Medical",
		CategoryMentalHealth:   "Mental Health",
		CategoryAddictionRecov: "Addiction Recovery",
		CategoryIntimacy:       "Intimacy",
		CategoryFinancial:      "Financial",
		CategoryLegal:          "Legal",
		CategoryEmbarrassing:   "Embarrassing",
	}
	if n, ok := names[c]; ok {
		return n
	}
	return string(c)
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// JobStatus is the lifecycle state of a per-day job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job status is terminal.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	}
	return false
}

// PromptStage identifies which pipeline stage a prompt template serves.
type PromptStage string

const (
	StageClassify  PromptStage = "classify"
	StageSummarize PromptStage = "summarize"
	StageRedact    PromptStage = "redact"
)

// FilterMode selects whether a filter profile includes or excludes its
// category list.
type FilterMode string

const (
	FilterInclude FilterMode = "include"
	FilterExclude FilterMode = "exclude"
)

// ImportStats summarises what a single import produced.
type ImportStats struct {
	MessageCount    int            `json:"messageCount"`
	DayCount        int            `json:"dayCount"`
	CoverageStart   string         `json:"coverageStart,omitempty"`
	CoverageEnd     string         `json:"coverageEnd,omitempty"`
	PerSourceCounts map[string]int `json:"perSourceCounts"`
}

// ImportBatch is a single parsed export file. Immutable after creation.
type ImportBatch struct {
	ID               string
	CreatedAt        time.Time
	Source           Source
	OriginalFilename string
	FileSizeBytes    int64
	Timezone         string
	Stats            ImportStats
}

// MessageAtom is one normalised message. Created during ingest, never
// mutated, never deleted while any label references it.
type MessageAtom struct {
	ID                   string
	AtomStableID         string
	ImportBatchID        string
	Source               Source
	SourceConversationID string
	SourceMessageID      string
	TimestampUTC         time.Time
	DayDate              string
	Role                 Role
	Text                 string
	TextHash             string
}

// RawEntry is the verbatim per-(batch, source, day) concatenation of
// that day's atoms in canonical order.
type RawEntry struct {
	ID            string
	ImportBatchID string
	Source        Source
	DayDate       string
	ContentText   string
	ContentHash   string
	CreatedAt     time.Time
}

// Prompt is a template family identified by (stage, name).
type Prompt struct {
	ID    string
	Stage PromptStage
	Name  string
}

// PromptVersion is one immutable version of a prompt template.
// Exactly one version per stage is active at any time.
type PromptVersion struct {
	ID           string
	PromptID     string
	Stage        PromptStage
	VersionLabel string
	TemplateText string
	IsActive     bool
	CreatedAt    time.Time
}

// LabelSpec is the pair a classification is keyed under.
type LabelSpec struct {
	Model           string `json:"model"`
	PromptVersionID string `json:"promptVersionId"`
}

// MessageLabel is a classification of one atom under one label spec.
// Unique on (MessageAtomID, Model, PromptVersionID); immutable.
type MessageLabel struct {
	MessageAtomID   string
	Model           string
	PromptVersionID string
	Category        Category
	Confidence      float64
	CreatedAt       time.Time
}

// FilterSnapshot is a filter profile frozen by value into a run config.
type FilterSnapshot struct {
	Mode       FilterMode `json:"mode"`
	Categories []Category `json:"categories"`
}

// Allows reports whether the snapshot lets a category through.
func (f FilterSnapshot) Allows(c Category) bool {
	found := false
	for _, k := range f.Categories {
		if k == c {
			found = true
			break
		}
	}
	if f.Mode == FilterExclude {
		return !found
	}
	return found
}

// FilterProfile is a named, live filter policy. Runs snapshot it by
// value; the live row never governs pipeline behaviour.
type FilterProfile struct {
	ID         string
	Name       string
	Mode       FilterMode
	Categories []Category
	CreatedAt  time.Time
}

// PricingRates is the per-model price card, in USD per million tokens.
type PricingRates struct {
	Provider            string  `json:"provider"`
	InputPer1MUsd       float64 `json:"inputPer1MUsd"`
	OutputPer1MUsd      float64 `json:"outputPer1MUsd"`
	CachedInputPer1MUsd float64 `json:"cachedInputPer1MUsd,omitempty"`
}

// PricingSnapshot freezes the rates used for a run's cost accounting.
type PricingSnapshot struct {
	Model      string       `json:"model"`
	Rates      PricingRates `json:"rates"`
	CapturedAt string       `json:"capturedAt"`
}

// RunConfig is the frozen configuration a run carries in configJson.
// Immutable after run creation; all downstream work reads from it.
type RunConfig struct {
	PromptVersionIDs struct {
		Summarize string `json:"summarize"`
	} `json:"promptVersionIds"`
	LabelSpec             LabelSpec        `json:"labelSpec"`
	FilterProfileSnapshot FilterSnapshot   `json:"filterProfileSnapshot"`
	Timezone              string           `json:"timezone"`
	MaxInputTokens        int              `json:"maxInputTokens"`
	PricingSnapshot       *PricingSnapshot `json:"pricingSnapshot,omitempty"`
	ImportBatchIDs        []string         `json:"importBatchIds"`
}

// Run is one pipeline execution over a date range.
type Run struct {
	ID              string
	Status          RunStatus
	Model           string
	StartDate       string
	EndDate         string
	Sources         []Source
	FilterProfileID string
	OutputTarget    string
	Config          RunConfig
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// JobError is the JSON error payload stored on a failed job.
type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
	At        string `json:"at"`
}

// Job is the unit of work for one (run, dayDate).
type Job struct {
	ID         string
	RunID      string
	DayDate    string
	Status     JobStatus
	Attempt    int
	StartedAt  *time.Time
	FinishedAt *time.Time
	TokensIn   int
	TokensOut  int
	CostUsd    float64
	Error      *JobError
}

// OutputMeta is the structured metadata stored alongside an output.
type OutputMeta struct {
	Segmented            bool     `json:"segmented"`
	SegmentCount         int      `json:"segmentCount,omitempty"`
	SegmentIDs           []string `json:"segmentIds,omitempty"`
	AtomCount            int      `json:"atomCount"`
	EstimatedInputTokens int      `json:"estimatedInputTokens"`
}

// Output is the summariser's artifact for one job. Immutable once
// written.
type Output struct {
	ID                string
	JobID             string
	Stage             PromptStage
	OutputText        string
	Meta              OutputMeta
	Model             string
	PromptVersionID   string
	BundleHash        string
	BundleContextHash string
	CreatedAt         time.Time
}

// ClassifyMode selects the stub or LLM-backed classifier.
type ClassifyMode string

const (
	ClassifyStub ClassifyMode = "stub"
	ClassifyReal ClassifyMode = "real"
)

// ClassifyRun is the stats record persisted for one classify invocation.
type ClassifyRun struct {
	ID                    string
	ImportBatchID         string
	Model                 string
	PromptVersionID       string
	Mode                  ClassifyMode
	Status                string
	TotalAtoms            int
	NewlyLabeled          int
	SkippedAlreadyLabeled int
	LabeledTotal          int
	StartedAt             time.Time
	FinishedAt            *time.Time
	CostUsd               float64
}

// ParsedMessage is the normalised message contract produced by the
// vendor parsers (external collaborators).
type ParsedMessage struct {
	Source               Source
	SourceConversationID string
	SourceMessageID      string
	TimestampUTC         time.Time
	Role                 Role
	Text                 string
}

// StubModel is the zero-cost model marker that short-circuits provider
// calls everywhere.
const StubModel = "stub"
