package api

type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type ModelStatus struct {
	Object string `json:"object"`
	State  string `json:"state"`
	Path   string `json:"path,omitempty"`
}

type ModelEntry struct {
	ID     string `json:"id"`
	Object string `json:"object"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Loaded bool   `json:"loaded"`
}

type ModelList struct {
	Object string       `json:"object"`
	Data   []ModelEntry `json:"data"`
}

type LoadRequest struct {
	Model string `json:"model"`
	Async bool   `json:"async,omitempty"`
}

type ChatRequest struct {
	Question  string `json:"question"`
	Stream    bool   `json:"stream,omitempty"`
	Sentences bool   `json:"sentences,omitempty"`
}

type ChatResponse struct {
	ID         string   `json:"id"`
	Object     string   `json:"object"`
	Created    int64    `json:"created"`
	Model      string   `json:"model,omitempty"`
	Text       string   `json:"text"`
	Sentences  []string `json:"sentences,omitempty"`
	Tokens     int      `json:"tokens"`
	DurationMS int64    `json:"duration_ms"`
}

// StreamEvent is one SSE payload of a streaming chat.
type StreamEvent struct {
	Type     string        `json:"type"`
	ID       string        `json:"id"`
	Seq      int           `json:"sequence_number"`
	Delta    string        `json:"delta,omitempty"`
	Sentence string        `json:"sentence,omitempty"`
	Response *ChatResponse `json:"response,omitempty"`
	Error    *APIError     `json:"error,omitempty"`
}

const (
	JobInProgress = "in_progress"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
)

type Job struct {
	ID          string        `json:"id"`
	Object      string        `json:"object"`
	Kind        string        `json:"kind"`
	Status      string        `json:"status"`
	CreatedAt   int64         `json:"created_at"`
	CompletedAt *int64        `json:"completed_at,omitempty"`
	Model       string        `json:"model,omitempty"`
	Question    string        `json:"question,omitempty"`
	Result      *ChatResponse `json:"result,omitempty"`
	Error       *APIError     `json:"error,omitempty"`
}

func (j Job) terminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}
