package gemini

// FinishReason is why a candidate stopped generating.
type FinishReason string

const (
	FinishReasonStop        FinishReason = "STOP"
	FinishReasonMaxTokens   FinishReason = "MAX_TOKENS"
	FinishReasonSafety      FinishReason = "SAFETY"
	FinishReasonUnspecified FinishReason = "FINISH_REASON_UNSPECIFIED"
)

// Candidate is one generated completion.
type Candidate struct {
	Content      Content      `json:"content"`
	FinishReason FinishReason `json:"finishReason,omitempty"`
	Index        int          `json:"index"`
}

// UsageMetadata holds token counts. TotalTokenCount is the sum of the other
// two when the backend does not report it.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Response is the body of a generateContent response and of each
// streamGenerateContent event.
type Response struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
	ResponseID    string         `json:"responseId,omitempty"`
}

// Text returns the concatenated text of the first candidate.
func (r *Response) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].Content.Text()
}
