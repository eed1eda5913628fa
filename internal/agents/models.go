package agents

import "github.com/meridianlabs/deepresearch/internal/citations"

// RunStatus is the remote run state surfaced by the agent service.
type RunStatus string

const (
	StatusQueued     RunStatus = "queued"
	StatusInProgress RunStatus = "in_progress"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
	StatusCancelled  RunStatus = "cancelled"
)

// Terminal reports whether the run has stopped making progress.
func (s RunStatus) Terminal() bool {
	return s != StatusQueued && s != StatusInProgress
}

// Agent is a remote agent configured with the deep research tool.
type Agent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Model        string `json:"model"`
	Instructions string `json:"instructions"`
}

// Thread is a remote conversation thread.
type Thread struct {
	ID string `json:"id"`
}

// Run is one execution of an agent on a thread.
type Run struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	AgentID   string    `json:"assistant_id"`
	Status    RunStatus `json:"status"`
	LastError *RunError `json:"last_error,omitempty"`
}

// RunError carries the remote failure detail of a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RunError) String() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// ThreadMessage is a message on a thread, composed of text fragments that
// may carry url-citation annotations.
type ThreadMessage struct {
	ID      string           `json:"id"`
	Role    string           `json:"role"`
	Content []MessageContent `json:"content"`
}

// MessageContent is one content block of a thread message.
type MessageContent struct {
	Type string       `json:"type"`
	Text *MessageText `json:"text,omitempty"`
}

// MessageText is the text payload of a content block.
type MessageText struct {
	Value       string              `json:"value"`
	Annotations []MessageAnnotation `json:"annotations,omitempty"`
}

// MessageAnnotation is an annotation attached to a text block; only
// url_citation annotations are meaningful here.
type MessageAnnotation struct {
	Type        string                `json:"type"`
	URLCitation *citations.Annotation `json:"url_citation,omitempty"`
}

// Texts returns the values of all text content blocks in order.
func (m *ThreadMessage) Texts() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Content))
	for _, c := range m.Content {
		if c.Type == "text" && c.Text != nil {
			out = append(out, c.Text.Value)
		}
	}
	return out
}

// URLCitations returns every url-citation annotation in the message, in
// document order.
func (m *ThreadMessage) URLCitations() []citations.Annotation {
	if m == nil {
		return nil
	}
	var out []citations.Annotation
	for _, c := range m.Content {
		if c.Text == nil {
			continue
		}
		for _, ann := range c.Text.Annotations {
			if ann.Type == "url_citation" && ann.URLCitation != nil {
				out = append(out, *ann.URLCitation)
			}
		}
	}
	return out
}
