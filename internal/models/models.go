package models

import "time"

type RunKind string

const (
	KindMorning RunKind = "morning"
	KindEvening RunKind = "evening"
)

func Kinds() []RunKind {
	return []RunKind{KindMorning, KindEvening}
}

func ValidKind(s string) bool {
	return RunKind(s) == KindMorning || RunKind(s) == KindEvening
}

type RunTrigger string

const (
	TriggerSchedule RunTrigger = "schedule"
	TriggerManual   RunTrigger = "manual"
)

type SourceStatus string

const (
	SourceOK       SourceStatus = "ok"
	SourcePartial  SourceStatus = "partial"
	SourceFailed   SourceStatus = "failed"
	SourceTimedOut SourceStatus = "timeout"
	SourceSkipped  SourceStatus = "skipped"
)

// SourceResult is the outcome of one source fetch. Every registered source
// yields exactly one per aggregation, whatever happened during the fetch.
type SourceResult struct {
	Source    string         `json:"source"`
	Status    SourceStatus   `json:"status"`
	Payload   map[string]any `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
	Elapsed   time.Duration  `json:"elapsed"`
	FetchedAt time.Time      `json:"fetched_at"`
}

type Snapshot struct {
	Kind    RunKind        `json:"kind"`
	TakenAt time.Time      `json:"taken_at"`
	Results []SourceResult `json:"results"`
}

func (s Snapshot) Get(name string) (SourceResult, bool) {
	for _, r := range s.Results {
		if r.Source == name {
			return r, true
		}
	}
	return SourceResult{}, false
}

func (s Snapshot) Counts() map[SourceStatus]int {
	counts := make(map[SourceStatus]int)
	for _, r := range s.Results {
		counts[r.Status]++
	}
	return counts
}

// Healthy reports whether every source either succeeded or was skipped as
// unconfigured. Partial, failed, and timed-out sources all count against it.
func (s Snapshot) Healthy() bool {
	for _, r := range s.Results {
		if r.Status != SourceOK && r.Status != SourceSkipped {
			return false
		}
	}
	return true
}

type Generation struct {
	Text         string `json:"-"`
	ProviderUsed int    `json:"provider_used"`
	ProviderName string `json:"provider_name"`
	Degraded     bool   `json:"degraded"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
}

type Delivery struct {
	Attempts  int    `json:"attempts"`
	Transport string `json:"transport"`
}

type RunOutcome string

const (
	OutcomeRunning            RunOutcome = "running"
	OutcomeDelivered          RunOutcome = "delivered"
	OutcomeAggregationPartial RunOutcome = "aggregation_partial"
	OutcomeGenerationFailed   RunOutcome = "generation_failed"
	OutcomeDeliveryFailed     RunOutcome = "delivery_failed"
	OutcomeFailed             RunOutcome = "failed"
)

func (o RunOutcome) Completed() bool {
	return o == OutcomeDelivered || o == OutcomeAggregationPartial
}

type RunRecord struct {
	ID               string     `json:"id"`
	Kind             RunKind    `json:"kind"`
	Trigger          RunTrigger `json:"trigger"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Outcome          RunOutcome `json:"outcome"`
	ProviderUsed     int        `json:"provider_used"`
	ProviderName     string     `json:"provider_name,omitempty"`
	Degraded         bool       `json:"degraded"`
	DeliveryAttempts int        `json:"delivery_attempts"`
	SourceSummary    string     `json:"source_summary,omitempty"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

type SourceSummaryEntry struct {
	Source    string       `json:"source"`
	Status    SourceStatus `json:"status"`
	ElapsedMS int64        `json:"elapsed_ms"`
	Error     string       `json:"error,omitempty"`
}

type Token struct {
	Key         string    `json:"key"`
	AccessToken string    `json:"-"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Valid reports whether the token is usable at the given instant, allowing
// for the provided clock-skew margin.
func (t Token) Valid(now time.Time, skew time.Duration) bool {
	return t.AccessToken != "" && now.Add(skew).Before(t.ExpiresAt)
}

type Headline struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Trigrams  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
