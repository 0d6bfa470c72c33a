package events

// Type tags one streaming event exchanged between the generation orchestrator
// and a live caller. Events are never persisted.
type Type string

const (
	TypePlanStart     Type = "plan_start"
	TypeModuleSummary Type = "module_summary"
	TypeProgress      Type = "progress"
	TypeComplete      Type = "complete"
	TypeError         Type = "error"
	TypeCancelled     Type = "cancelled"
)

// Event is the tagged union carried on the wire. Data is one of the *Data
// payload structs below; consumers must process events strictly in stream
// order, with complete/error/cancelled always terminal for an attempt.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

type PlanStartData struct {
	PlanID        string  `json:"planId"`
	Topic         string  `json:"topic"`
	SkillLevel    string  `json:"skillLevel"`
	LearningStyle string  `json:"learningStyle"`
	WeeklyHours   float64 `json:"weeklyHours"`
	StartDate     *string `json:"startDate"`
	DeadlineDate  *string `json:"deadlineDate"`
	Origin        string  `json:"origin,omitempty"`
}

type ModuleSummaryData struct {
	PlanID           string  `json:"planId"`
	Index            int     `json:"index"`
	Title            string  `json:"title"`
	Description      *string `json:"description,omitempty"`
	EstimatedMinutes int     `json:"estimatedMinutes"`
	TasksCount       int     `json:"tasksCount"`
}

type ProgressData struct {
	PlanID           string `json:"planId"`
	ModulesParsed    int    `json:"modulesParsed"`
	ModulesTotalHint *int   `json:"modulesTotalHint,omitempty"`
}

type CompleteData struct {
	PlanID       string `json:"planId"`
	ModulesCount int    `json:"modulesCount"`
	TasksCount   int    `json:"tasksCount"`
	DurationMs   int64  `json:"durationMs"`
}

type ErrorData struct {
	PlanID         *string `json:"planId,omitempty"`
	Code           string  `json:"code"`
	Message        string  `json:"message"`
	Classification string  `json:"classification"`
	Retryable      bool    `json:"retryable"`
	RequestID      string  `json:"requestId,omitempty"`
}

type CancelledData struct {
	PlanID         string `json:"planId"`
	Message        string `json:"message"`
	Classification string `json:"classification"`
	Retryable      bool   `json:"retryable"`
	RequestID      string `json:"requestId,omitempty"`
}

func NewPlanStart(d PlanStartData) Event { return Event{Type: TypePlanStart, Data: d} }
func NewModuleSummary(d ModuleSummaryData) Event {
	return Event{Type: TypeModuleSummary, Data: d}
}
func NewProgress(d ProgressData) Event { return Event{Type: TypeProgress, Data: d} }
func NewComplete(d CompleteData) Event { return Event{Type: TypeComplete, Data: d} }
func NewError(d ErrorData) Event       { return Event{Type: TypeError, Data: d} }

// NewCancelled pins the literal payload constraints: classification is always
// "cancelled" and retryable is always true.
func NewCancelled(planID, message, requestID string) Event {
	return Event{Type: TypeCancelled, Data: CancelledData{
		PlanID:         planID,
		Message:        message,
		Classification: "cancelled",
		Retryable:      true,
		RequestID:      requestID,
	}}
}

var skillLevels = map[string]bool{
	"beginner":     true,
	"intermediate": true,
	"advanced":     true,
}

var learningStyles = map[string]bool{
	"reading":  true,
	"video":    true,
	"practice": true,
	"mixed":    true,
}

var planOrigins = map[string]bool{
	"ai":       true,
	"manual":   true,
	"template": true,
	"pdf":      true,
}

func ValidSkillLevel(s string) bool    { return skillLevels[s] }
func ValidLearningStyle(s string) bool { return learningStyles[s] }
func ValidPlanOrigin(s string) bool    { return planOrigins[s] }
