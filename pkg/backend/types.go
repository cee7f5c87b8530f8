package backend

// AudioPayload is one captured utterance ready for upload.
type AudioPayload struct {
	Data     []byte
	MimeType string
	Filename string
}

// VoiceBotResponse is the body of POST /voicebot. Every field is optional.
type VoiceBotResponse struct {
	Transcript      string `json:"transcript,omitempty"`
	AgentResponse   string `json:"agent_response,omitempty"`
	AudioBase64     string `json:"audio_base64,omitempty"`
	OutputAudioPath string `json:"output_audio_path,omitempty"`
	Error           string `json:"error,omitempty"`
}

// TranscriptionResponse is the body of POST /stt.
type TranscriptionResponse struct {
	Text           string `json:"text"`
	InputAudioPath string `json:"input_audio_path,omitempty"`
	Error          string `json:"error,omitempty"`
}

type CompletionRequest struct {
	Prompt string `json:"prompt"`
}

// CompletionResponse is the body of POST /llm.
type CompletionResponse struct {
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

type SpeechRequest struct {
	Text string `json:"text"`
}

// SpeechResponse is the body of POST /tts.
type SpeechResponse struct {
	AudioBase64     string `json:"audio_base64,omitempty"`
	OutputAudioPath string `json:"output_audio_path,omitempty"`
	Error           string `json:"error,omitempty"`
}
