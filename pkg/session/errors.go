package session

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/go-go-golems/voicebot/pkg/backend"
)

var (
	// ErrBusy is returned when a turn is already in flight. Nothing is
	// written to the log.
	ErrBusy = errors.New("a turn is already in progress")
	// ErrNotRecording is returned by Stop/Abort outside of a recording.
	ErrNotRecording = errors.New("not recording")
)

// Kind classifies a failure that was reported to the user.
type Kind string

const (
	KindMicrophoneUnavailable  Kind = "microphone-unavailable"
	KindCaptureFailed          Kind = "capture-failed"
	KindEmptyCapture           Kind = "empty-capture"
	KindUploadTransportFailure Kind = "upload-transport-failure"
	KindUploadRejected         Kind = "upload-rejected"
	KindResponseParseFailure   Kind = "response-parse-failure"
	KindSynthesisFailed        Kind = "synthesis-failed"
	KindPlaybackDecodeFailed   Kind = "playback-decode-failed"
	KindPlaybackLoadFailed     Kind = "playback-load-failed"
	KindPlaybackRejected       Kind = "playback-rejected"
)

// Error is returned after the matching bot message has been written to the
// log. Callers only need to log it.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a reported error, or "" for anything else.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// User-visible texts.
const (
	TextListening = "Listening..."
	TextThinking  = "Thinking..."

	TextMicrophoneUnavailable = "Microphone access denied or not available."
	TextCaptureFailed         = "Recording failed - the microphone stopped unexpectedly."
	TextEmptyCapture          = "Recording failed - no audio data captured."
	TextRecordingCancelled    = "Recording cancelled."

	TextVoiceBotUnreachable = "Error contacting VoiceBot backend. Please check your connection."
	TextVoiceBotRejected    = "VoiceBot request failed. Please try again."
	TextVoiceBotUnreadable  = "VoiceBot sent a response that could not be read."

	TextAssistantUnreachable = "Error contacting the assistant. Please check your connection."
	TextAssistantRejected    = "Assistant request failed. Please try again."
	TextAssistantUnreadable  = "The assistant sent a response that could not be read."

	TextUnrecognizedSpeech = "[Unrecognized speech]"
	TextNoResponse         = "[No response]"

	TextSynthesisFailed  = "Audio synthesis failed."
	TextPlaybackDecode   = "Audio processing failed."
	TextPlaybackLoad     = "Audio loading failed."
	TextPlaybackRejected = "Audio playback failed. Please check your speakers."
)

type requestTexts struct {
	unreachable string
	rejected    string
	unreadable  string
}

var (
	voiceBotTexts  = requestTexts{TextVoiceBotUnreachable, TextVoiceBotRejected, TextVoiceBotUnreadable}
	assistantTexts = requestTexts{TextAssistantUnreachable, TextAssistantRejected, TextAssistantUnreadable}
)

// classifyRequestError maps a backend error onto the taxonomy and the text
// to show for it.
func classifyRequestError(err error, texts requestTexts) (Kind, string) {
	var (
		status *backend.StatusError
		decode *backend.DecodeError
		api    *backend.APIError
	)
	switch {
	case errors.As(err, &status), errors.As(err, &api):
		return KindUploadRejected, texts.rejected
	case errors.As(err, &decode):
		return KindResponseParseFailure, texts.unreadable
	default:
		return KindUploadTransportFailure, texts.unreachable
	}
}
