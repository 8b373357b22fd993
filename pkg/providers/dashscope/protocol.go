package dashscope

// Wire protocol for the DashScope duplex inference websocket. Every text
// message is an envelope; audio travels as binary websocket messages on the
// same connection.

const (
	defaultBaseURL = "wss://dashscope.aliyuncs.com/api-ws/v1/inference"

	actionRunTask      = "run-task"
	actionContinueTask = "continue-task"
	actionFinishTask   = "finish-task"

	eventTaskStarted     = "task-started"
	eventResultGenerated = "result-generated"
	eventTaskFinished    = "task-finished"
	eventTaskFailed      = "task-failed"

	streamingDuplex = "duplex"
)

type envelope struct {
	Header  header  `json:"header"`
	Payload payload `json:"payload"`
}

type header struct {
	Action       string `json:"action,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
	Streaming    string `json:"streaming,omitempty"`
	Event        string `json:"event,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type payload struct {
	TaskGroup  string          `json:"task_group,omitempty"`
	Task       string          `json:"task,omitempty"`
	Function   string          `json:"function,omitempty"`
	Model      string          `json:"model,omitempty"`
	Parameters *taskParameters `json:"parameters,omitempty"`
	Input      *taskInput      `json:"input"`
	Output     *taskOutput     `json:"output,omitempty"`
}

type taskParameters struct {
	// Recognition.
	Format                       string   `json:"format,omitempty"`
	SampleRate                   int      `json:"sample_rate,omitempty"`
	LanguageHints                []string `json:"language_hints,omitempty"`
	MaxSentenceSilence           int      `json:"max_sentence_silence,omitempty"`
	PunctuationPrediction        bool     `json:"punctuation_prediction_enabled,omitempty"`
	InverseTextNormalization     bool     `json:"inverse_text_normalization_enabled,omitempty"`
	DisfluencyRemoval            bool     `json:"disfluency_removal_enabled,omitempty"`
	SemanticPunctuation          bool     `json:"semantic_punctuation_enabled,omitempty"`
	IntermediateResult           string   `json:"intermediate_result,omitempty"`
	// Synthesis.
	Voice    string `json:"voice,omitempty"`
	TextType string `json:"text_type,omitempty"`
}

type taskInput struct {
	Text string `json:"text,omitempty"`
}

type taskOutput struct {
	Sentence *sentence `json:"sentence,omitempty"`
}

type sentence struct {
	Text        string `json:"text"`
	BeginTime   int    `json:"begin_time"`
	EndTime     int    `json:"end_time"`
	SentenceEnd bool   `json:"sentence_end"`
	Heartbeat   bool   `json:"heartbeat"`
}
