// Package ws carries the typed message protocol between the page,
// background and UI contexts over WebSocket.
package ws

import (
	"github.com/webolmo/recorder/internal/event"
)

type MessageType string

// The closed message set. Unknown types are logged and ignored, never an
// error.
const (
	MsgRecordInteraction      MessageType = "recordInteraction"
	MsgStartSession           MessageType = "startSession"
	MsgSendNote               MessageType = "sendNote"
	MsgSendQuestionAndAnswer  MessageType = "sendQuestionAndAnswer"
	MsgSendFinalAnswer        MessageType = "sendFinalAnswer"
	MsgTakeScreenshot         MessageType = "takeScreenshot"
	MsgCompleteStep           MessageType = "completeStep"
	MsgCompleteTask           MessageType = "completeTask"
	MsgGetInstruction         MessageType = "getInstruction"
	MsgGetWebsite             MessageType = "getWebsite"
	MsgRetryUpload            MessageType = "retryUpload"
	MsgStartUpload            MessageType = "startUpload"
	MsgFinishUpload           MessageType = "finishUpload"
	MsgUploadFailed           MessageType = "uploadFailed"
	MsgFinishSession          MessageType = "finishSession"
	MsgUpdateScreenshot       MessageType = "updateScreenshot"
	MsgStartScreenshotCapture MessageType = "startScreenshotCapture"
	MsgStartRecording         MessageType = "start-recording"
	MsgStopRecording          MessageType = "stop-recording"
	MsgAddEvent               MessageType = "addEvent"
	MsgShowSpeedWarning       MessageType = "showSpeedWarning"
)

// TargetCapture addresses recording-control messages to the capture
// context.
const TargetCapture = "offscreen"

// Message is the wire envelope. Which payload fields are set depends on
// Type; unused fields are omitted from the wire form.
type Message struct {
	Type   MessageType `json:"type"`
	Target string      `json:"target,omitempty"`

	// recordInteraction and the UI-originated event messages
	Event          *event.Event `json:"event,omitempty"`
	HTML           string       `json:"html,omitempty"`
	TakeScreenshot *bool        `json:"takeScreenshot,omitempty"`
	TabID          int          `json:"tabId,omitempty"`

	// startSession
	SessionID   string   `json:"sessionId,omitempty"`
	StartURL    string   `json:"startUrl,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
	TaskSteps   []string `json:"task_steps,omitempty"`
	UploadURL   string   `json:"uploadUrl,omitempty"`

	// getWebsite response
	Website string `json:"website,omitempty"`

	// upload lifecycle
	RedirectLocation string `json:"redirectLocation,omitempty"`
	Detail           string `json:"detail,omitempty"`

	// updateScreenshot
	Screenshot []byte `json:"screenshot,omitempty"`

	// addEvent
	Entry *event.Entry `json:"data,omitempty"`

	// showSpeedWarning
	Message string `json:"message,omitempty"`
}
