package digest

// EventRecord is one stored bridge event, flattened to the fields the digest pipeline reads.
type EventRecord struct {
	ServerTimestampMs int64  `json:"ts_server"`
	Type              string `json:"type"`

	ConversationID    string `json:"conversation_id"`
	ConversationTitle string `json:"conversation_title,omitempty"`

	// MessageTimestampMs is the client-reported send time; stores fall back to ServerTimestampMs.
	MessageTimestampMs int64  `json:"message_ts"`
	SenderLabel        string `json:"sender"`
	Text               string `json:"text,omitempty"`
}

// TimeWindow is a half-open [StartMs, EndMs) interval in UTC epoch milliseconds.
type TimeWindow struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// Contains reports whether ts falls inside the window.
func (w TimeWindow) Contains(ts int64) bool {
	return w.StartMs <= ts && ts < w.EndMs
}

// Message is one chat line inside a bucket.
type Message struct {
	TimestampMs int64  `json:"ts"`
	Sender      string `json:"sender"`
	Text        string `json:"text"`
}

// ConversationBucket groups the qualifying messages of one conversation within a window.
type ConversationBucket struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	Messages       []Message `json:"messages"`
}

// ActionItem is a task extracted from a conversation. An empty Due means no due date.
type ActionItem struct {
	Assignee string `json:"assignee"`
	Task     string `json:"task"`
	Due      string `json:"due"`
}

// DateItem is a time-bound mention ("what" happens "when").
type DateItem struct {
	What string `json:"what"`
	When string `json:"when"`
}

// ExtractionResult is the map-phase artifact for one conversation.
type ExtractionResult struct {
	ChatTitle   string       `json:"chat_title"`
	Highlights  []string     `json:"highlights"`
	Decisions   []string     `json:"decisions"`
	ActionItems []ActionItem `json:"action_items"`
	Dates       []DateItem   `json:"dates"`
	Questions   []string     `json:"questions"`
}

// PerChatDigest is the merged bullet list for one conversation.
type PerChatDigest struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
}

// MergedDigest is the reduce-phase artifact combining every ExtractionResult.
type MergedDigest struct {
	TopHighlights       []string        `json:"top_highlights"`
	ActionItems         []ActionItem    `json:"action_items"`
	UpcomingDates       []DateItem      `json:"upcoming_dates"`
	UnresolvedQuestions []string        `json:"unresolved_questions"`
	PerChat             []PerChatDigest `json:"per_chat"`
}

// LLMData carries the raw structured output of a map/reduce run.
type LLMData struct {
	PerChat []ExtractionResult `json:"per_chat"`
	Merged  MergedDigest       `json:"merged"`
}

// DigestResult is what both entry points return. Unavailable is set (with Reason) when the
// extraction backend could not be constructed; it is distinct from an empty digest.
type DigestResult struct {
	Range       string     `json:"range"`
	Window      TimeWindow `json:"window"`
	SummaryText string     `json:"summary_text,omitempty"`

	PerChat       []ConversationBucket `json:"per_chat,omitempty"`
	TotalMessages *int                 `json:"total_messages,omitempty"`

	LLM *LLMData `json:"llm,omitempty"`

	Unavailable bool   `json:"unavailable,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// emptyExtraction is the shell used when a map step fails.
func emptyExtraction(title string) ExtractionResult {
	return ExtractionResult{
		ChatTitle:   title,
		Highlights:  []string{},
		Decisions:   []string{},
		ActionItems: []ActionItem{},
		Dates:       []DateItem{},
		Questions:   []string{},
	}
}

// emptyMerged is the shell used when the reduce step fails.
func emptyMerged() MergedDigest {
	return MergedDigest{
		TopHighlights:       []string{},
		ActionItems:         []ActionItem{},
		UpcomingDates:       []DateItem{},
		UnresolvedQuestions: []string{},
		PerChat:             []PerChatDigest{},
	}
}

// normalize replaces nil sections with empty slices so the JSON shape is always complete.
func (r *ExtractionResult) normalize() {
	if r.Highlights == nil {
		r.Highlights = []string{}
	}
	if r.Decisions == nil {
		r.Decisions = []string{}
	}
	if r.ActionItems == nil {
		r.ActionItems = []ActionItem{}
	}
	if r.Dates == nil {
		r.Dates = []DateItem{}
	}
	if r.Questions == nil {
		r.Questions = []string{}
	}
}

func (m *MergedDigest) normalize() {
	if m.TopHighlights == nil {
		m.TopHighlights = []string{}
	}
	if m.ActionItems == nil {
		m.ActionItems = []ActionItem{}
	}
	if m.UpcomingDates == nil {
		m.UpcomingDates = []DateItem{}
	}
	if m.UnresolvedQuestions == nil {
		m.UnresolvedQuestions = []string{}
	}
	if m.PerChat == nil {
		m.PerChat = []PerChatDigest{}
	}
	for i := range m.PerChat {
		if m.PerChat[i].Bullets == nil {
			m.PerChat[i].Bullets = []string{}
		}
	}
}
