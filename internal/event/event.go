package event

import (
	"encoding/json"
	"fmt"
)

// Type classifies a recorded interaction.
type Type int

const (
	Click Type = iota
	Input
	Selection
	Scroll
	Keypress
	Copy
	Paste
	Load
	Unload
	TabSwitched
	TabCreated
	ResizeWindow
	Note
	QuestionAnswer
	FinalAnswer
	CompleteStep
	TakeScreenshot
)

var typeNames = map[Type]string{
	Click:          "click",
	Input:          "input",
	Selection:      "selection",
	Scroll:         "scroll",
	Keypress:       "keypress",
	Copy:           "copy",
	Paste:          "paste",
	Load:           "load",
	Unload:         "unload",
	TabSwitched:    "tab-switched",
	TabCreated:     "tab-created",
	ResizeWindow:   "resize-window",
	Note:           "note",
	QuestionAnswer: "question-answer",
	FinalAnswer:    "final-answer",
	CompleteStep:   "complete-step",
	TakeScreenshot: "take-screenshot",
}

var typeFromName = map[string]Type{}

func init() {
	for t, name := range typeNames {
		typeFromName[name] = t
	}
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := typeFromName[s]
	if !ok {
		return fmt.Errorf("unknown event type %q", s)
	}
	*t = v
	return nil
}

// Point is a page coordinate in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BoundingBox is an element's client rect at the time of the interaction.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Navigation methods derived on page load.
const (
	NavPageRefresh        = "page_refresh"
	NavBrowserBackForward = "browser_back_forward"
	NavDirect             = "direct_navigation"
	NavInternalLink       = "internal_link"
	NavExternalLink       = "external_link"
	NavUnknown            = "unknown"
)

// Event is one normalized interaction record. The variant is selected by
// Type; variant-specific fields are zero for other variants and omitted
// from the wire form. Events are immutable once created.
type Event struct {
	Type      Type   `json:"type"`
	Timestamp int64  `json:"timestamp"` // wall clock, milliseconds
	URL       string `json:"url,omitempty"`
	PageTitle string `json:"page_title,omitempty"`
	TabID     int    `json:"tabId,omitempty"`

	// click / keypress / input target descriptors
	X              float64      `json:"x,omitempty"`
	Y              float64      `json:"y,omitempty"`
	ViewportWidth  int          `json:"viewport_width,omitempty"`
	ViewportHeight int          `json:"viewport_height,omitempty"`
	Element        string       `json:"element,omitempty"`
	ElementID      string       `json:"id,omitempty"`
	Class          string       `json:"class,omitempty"`
	Src            string       `json:"src,omitempty"`
	Href           string       `json:"href,omitempty"`
	AriaLabel      string       `json:"ariaLabel,omitempty"`
	Role           string       `json:"role,omitempty"`
	Text           string       `json:"text,omitempty"`
	Button         int          `json:"button,omitempty"`
	BBox           *BoundingBox `json:"bbox,omitempty"`
	PointerType    string       `json:"originalEventType,omitempty"`
	OpenedNewTab   bool         `json:"openedNewTab,omitempty"`

	// input / keypress
	Value string `json:"value,omitempty"`
	Key   string `json:"key,omitempty"`

	// scroll
	DeltaX          float64 `json:"deltaX,omitempty"`
	DeltaY          float64 `json:"deltaY,omitempty"`
	DirectionX      string  `json:"directionX,omitempty"`
	DirectionY      string  `json:"directionY,omitempty"`
	CursorX         float64 `json:"cursorX,omitempty"`
	CursorY         float64 `json:"cursorY,omitempty"`
	Duration        int64   `json:"duration,omitempty"`
	IsElementScroll bool    `json:"isElementScroll,omitempty"`

	// selection
	IsSelectAll      bool   `json:"isSelectAll,omitempty"`
	StartCoordinates *Point `json:"startCoordinates,omitempty"`
	EndCoordinates   *Point `json:"endCoordinates,omitempty"`

	// load
	NavigationMethod string `json:"navigationMethod,omitempty"`
	NavigationType   string `json:"navigationType,omitempty"`
	Referrer         string `json:"referrer,omitempty"`

	// tab-switched / tab-created
	Title              string `json:"title,omitempty"`
	OpenedByAnotherTab bool   `json:"openedByAnotherTab,omitempty"`

	// resize-window
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	// note / question-answer / final-answer / complete-step
	NoteText string `json:"note,omitempty"`
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
	Step     int    `json:"step,omitempty"`
}

// Entry is an Event plus the capture artifacts attached at ingestion time.
// Appended to the session log, never mutated afterwards.
type Entry struct {
	Event      Event  `json:"event"`
	Screenshot []byte `json:"screenshot,omitempty"`
	HTML       string `json:"html,omitempty"`
}
