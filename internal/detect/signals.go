package detect

import (
	"github.com/webolmo/recorder/internal/event"
)

// Page describes the page context a signal came from.
type Page struct {
	URL            string
	Title          string
	ViewportWidth  int
	ViewportHeight int
}

// Target describes the element a signal landed on. Fields the page bridge
// could not read stay empty and are normalized to "unknown" on the record.
type Target struct {
	Element   string
	ID        string
	Class     string
	Src       string
	Href      string
	AriaLabel string
	Role      string
	Text      string
	Value     string
	BBox      *event.BoundingBox

	// Nearest enclosing anchor, when any. Used to detect navigations that
	// open a new browsing context.
	AnchorHref   string
	AnchorTarget string
}

// Pointer signal kinds.
const (
	PointerDown = "pointerdown"
	PointerUp   = "pointerup"
)

type PointerSignal struct {
	Kind       string
	Button     int
	X, Y       float64
	Timestamp  int64
	Cancelable bool
	Target     Target
	Page       Page
}

// MouseDownSignal feeds drag bookkeeping and new-context anchor detection.
type MouseDownSignal struct {
	Button    int
	X, Y      float64
	Timestamp int64
	Target    Target
	Page      Page
}

type ScrollSignal struct {
	X, Y          float64
	Timestamp     int64
	ElementScroll bool // scroll container is an element, not the window
	Target        Target
	Page          Page
}

type KeySignal struct {
	Key       string
	Timestamp int64
	Target    Target
	Page      Page
}

type InputSignal struct {
	Value     string
	Editable  bool // target is a text input or textarea
	Timestamp int64
	Target    Target
	Page      Page
}

type SelectionSignal struct {
	Text      string
	BodyText  string // full visible text, for select-all detection
	Start     *event.Point
	End       *event.Point
	Timestamp int64
	Page      Page
}

type ClipboardSignal struct {
	Text      string
	Timestamp int64
	Page      Page
}

// Navigation-entry types reported by the page on load.
const (
	NavTypeReload      = "reload"
	NavTypeBackForward = "back_forward"
	NavTypeNavigate    = "navigate"
)

type LoadSignal struct {
	NavigationType string
	Referrer       string
	Timestamp      int64
	Page           Page
}

type UnloadSignal struct {
	Timestamp int64
	Page      Page
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
