package proxy

// Message is one chat message in the OpenAI wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	User        string    `json:"user,omitempty"`
}

// ChatResponse is the OpenAI-compatible non-streaming completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FileObject is the response of the files endpoint.
type FileObject struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
}

// Hyperparameters tune a fine-tuning run.
type Hyperparameters struct {
	NEpochs                int     `json:"n_epochs,omitempty"`
	BatchSize              int     `json:"batch_size,omitempty"`
	LearningRateMultiplier float64 `json:"learning_rate_multiplier,omitempty"`
}

// FineTuneRequest creates a fine-tuning job.
type FineTuneRequest struct {
	TrainingFile    string           `json:"training_file"`
	Model           string           `json:"model"`
	Suffix          string           `json:"suffix,omitempty"`
	Hyperparameters *Hyperparameters `json:"hyperparameters,omitempty"`
}

// Remote fine-tuning job statuses.
const (
	JobValidatingFiles = "validating_files"
	JobQueued          = "queued"
	JobRunning         = "running"
	JobSucceeded       = "succeeded"
	JobFailed          = "failed"
	JobCancelled       = "cancelled"
)

// FineTuneJob is the upstream view of a fine-tuning job.
type FineTuneJob struct {
	ID             string    `json:"id"`
	Object         string    `json:"object"`
	Model          string    `json:"model"`
	Status         string    `json:"status"`
	FineTunedModel string    `json:"fine_tuned_model,omitempty"`
	TrainingFile   string    `json:"training_file"`
	CreatedAt      int64     `json:"created_at"`
	FinishedAt     int64     `json:"finished_at,omitempty"`
	Error          *JobError `json:"error,omitempty"`
}

type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
