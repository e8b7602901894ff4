package fleet

// InteractiveRole is a semantic accessibility role eligible for the
// interactive element index. Roles outside this set never appear in an
// index even when present in the raw accessibility tree.
type InteractiveRole string

const (
	RoleButton      InteractiveRole = "button"
	RoleLink        InteractiveRole = "link"
	RoleTextbox     InteractiveRole = "textbox"
	RoleSearchbox   InteractiveRole = "searchbox"
	RoleCombobox    InteractiveRole = "combobox"
	RoleCheckbox    InteractiveRole = "checkbox"
	RoleRadio       InteractiveRole = "radio"
	RoleMenuItem    InteractiveRole = "menuitem"
	RoleTab         InteractiveRole = "tab"
	RoleSpinButton  InteractiveRole = "spinbutton"
	RoleSlider      InteractiveRole = "slider"
	RoleSwitch      InteractiveRole = "switch"
)

// InteractiveRoles is the fixed set of roles that may appear in an
// interactive element index.
var InteractiveRoles = map[InteractiveRole]bool{
	RoleButton:     true,
	RoleLink:       true,
	RoleTextbox:    true,
	RoleSearchbox:  true,
	RoleCombobox:   true,
	RoleCheckbox:   true,
	RoleRadio:      true,
	RoleMenuItem:   true,
	RoleTab:        true,
	RoleSpinButton: true,
	RoleSlider:     true,
	RoleSwitch:     true,
}

// DecorativeRoles are pruned from the normalized accessibility tree.
var DecorativeRoles = map[string]bool{
	"generic":        true,
	"none":           true,
	"presentation":   true,
	"inlinetextbox":  true,
}

// BoundingBox is a viewport-relative rectangle in CSS pixels.
type BoundingBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Point is a viewport coordinate used for CLICK targets.
type Point struct {
	X float64
	Y float64
}

// InteractiveElement is one entry in the interactive element index.
type InteractiveElement struct {
	NodeID      int64
	Role        InteractiveRole
	Name        string
	Value       string
	BoundingBox BoundingBox
}

// AXNode is a node in the normalized accessibility tree.
type AXNode struct {
	NodeID   int64
	Role     string
	Name     string
	Value    string
	Children []*AXNode
}

// NormalizedAXTree is the result of extract_normalized_ax_tree.
type NormalizedAXTree struct {
	Root                *AXNode
	RawCount            int
	NormalizedCount     int
	InteractiveCount    int
	NormalizedCharCount int
	DurationMS          int64
	ExceededCharBudget  bool
	ExceededTimeBudget  bool
	Truncated           bool
}

// InteractiveIndexResult is the result of extract_interactive_element_index.
type InteractiveIndexResult struct {
	Index           []InteractiveElement
	Tree            *NormalizedAXTree
	IndexCharCount  int
	SizeRatio       float64
}

// ScreenshotMode selects viewport-only or bounded full-page tiling.
type ScreenshotMode string

const (
	ScreenshotViewport ScreenshotMode = "viewport"
	ScreenshotFullPage ScreenshotMode = "full-page"
)

// Screenshot is the result of capture_screenshot.
type Screenshot struct {
	Base64           string
	MimeType         string
	Width            int
	Height           int
	ScrollSteps      int
	CapturedSegments int
	Truncated        bool
}

// RefetchReason explains why perception re-extracted a fresh observation
// rather than reusing the cache.
type RefetchReason string

const (
	RefetchInitial                   RefetchReason = "INITIAL"
	RefetchNavigation                RefetchReason = "NAVIGATION"
	RefetchScrollAction              RefetchReason = "SCROLL_ACTION"
	RefetchSignificantDOMMutation    RefetchReason = "SIGNIFICANT_DOM_MUTATION"
	RefetchNone                      RefetchReason = "NONE"
)

// ActionSummary is a compact record of a prior step's action, used to build
// context-window history pairs.
type ActionSummary struct {
	Action     ActionType
	Target     *Point
	Text       string
	Key        string
	Confidence float64
}

// ObservationSummary is a compact textual digest of a prior observation,
// used to build context-window history pairs.
type ObservationSummary struct {
	URL     string
	Summary string
}

// Observation is a perception snapshot of the current page.
type Observation struct {
	CurrentURL     string
	Index          []InteractiveElement
	Tree           *NormalizedAXTree
	IndexCharCount int
	Screenshot     *Screenshot

	RecentActions      []ActionSummary
	RecentObservations []ObservationSummary
}

// AXDeficiencySignals mirrors the page-health signal set a browser
// session reports for get_ax_deficiency_signals (spec.md §4.1), lifted
// into this package so a Step Record can carry it without pkg/fleet
// importing the browser-control-layer package.
type AXDeficiencySignals struct {
	ReadyState                   string
	IsLoadComplete               bool
	HasSignificantVisualContent  bool
	VisibleElementCount          int
	TextCharCount                int
	MediaElementCount            int
	DOMInteractiveCandidateCount int
}

// MutationSummary mirrors the post-action DOM mutation tally a browser
// session reports from execute_action (spec.md §3 Step Record).
type MutationSummary struct {
	AddedRemoved             int
	InteractiveRoleMutations int
	ChildList                bool
	Attribute                bool
}

// CacheHitCounters records whether each of the layers with a step-scoped
// cache (spec.md §3 Step Record: "observation-cache hits
// (perception/decision/screenshot)") served a hit on this step. Only
// Perception has a real cache behind it (internal/cache.ObservationCache);
// Decision and Screenshot stay false until this implementation grows a
// decision cache or a screenshot cache to back them.
type CacheHitCounters struct {
	Perception bool
	Decision   bool
	Screenshot bool
}

// ContextWindowMetrics is the context-window bookkeeping attached to a
// step record (spec.md §4.2 Context-window management, §8 testable
// invariant `recent_pair_count = min(step-1, 5)`,
// `summarized_pair_count = max(step-1-5, 0)`).
type ContextWindowMetrics struct {
	RecentPairCount     int
	SummarizedPairCount int
	SummaryIncluded     bool
	SummaryCharCount    int
	SummaryRefreshCount int
	Tier1PromptTokens   int
	Tier2PromptTokens   int
}

// Valid reports whether the observation satisfies the invariant that the
// interactive index is strictly smaller, in characters, than the
// normalized tree it was extracted from, and that no dropped decorative
// role leaked into the tree.
func (o *Observation) Valid() bool {
	if o.Tree == nil {
		return o.IndexCharCount == 0
	}
	if o.IndexCharCount >= o.Tree.NormalizedCharCount {
		return false
	}
	return !containsDecorativeRole(o.Tree.Root)
}

func containsDecorativeRole(n *AXNode) bool {
	if n == nil {
		return false
	}
	if DecorativeRoles[n.Role] {
		return true
	}
	for _, c := range n.Children {
		if containsDecorativeRole(c) {
			return true
		}
	}
	return false
}
