package bcl

import (
	"context"
	"time"

	cdpaccessibility "github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// rawAXNode is the chromedp/cdproto accessibility node shape this package
// normalizes into fleet.AXNode, dropping decorative roles and enforcing a
// char budget breadth-first.
type rawAXNode struct {
	id       int64
	role     string
	name     string
	value    string
	children []*rawAXNode
}

// ExtractNormalizedAXTree pulls the page's accessibility tree, drops
// fleet.DecorativeRoles, stops descending into further children once
// timeBudget is exceeded, and truncates breadth-first once charBudget is
// exceeded (spec.md §4.1).
func (s *Session) ExtractNormalizedAXTree(ctx context.Context, charBudget int, timeBudgetMS int64, includeBoundingBoxes bool) (*fleet.NormalizedAXTree, error) {
	start := time.Now()
	if charBudget <= 0 {
		charBudget = 12000
	}
	timeBudget := time.Duration(timeBudgetMS) * time.Millisecond
	if timeBudget <= 0 {
		timeBudget = 3 * time.Second
	}

	runCtx, cancel := context.WithTimeout(s.taskCtx, timeBudget+2*time.Second)
	defer cancel()

	var nodes []*cdpaccessibility.Node
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		nodes, err = cdpaccessibility.GetFullAXTree().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, s.classifyErr(err)
	}

	rawCount := len(nodes)
	byID := make(map[cdpaccessibility.AXNodeID]*cdpaccessibility.Node, rawCount)
	for _, n := range nodes {
		byID[n.NodeID] = n
	}

	var root *cdpaccessibility.Node
	for _, n := range nodes {
		if len(n.ParentID) == 0 || byID[n.ParentID] == nil {
			root = n
			break
		}
	}
	if root == nil && len(nodes) > 0 {
		root = nodes[0]
	}

	deadline := start.Add(timeBudget)

	backendIDs := make(map[int64]cdp.BackendNodeID, rawCount)
	normalized, normCount, interactiveCount, exceededTime := buildNormalizedTree(root, byID, deadline, backendIDs)
	s.axBackendIDs = backendIDs

	budgetedRoot, charCount, exceededChar, truncated := applyCharBudget(normalized, charBudget)

	return &fleet.NormalizedAXTree{
		Root:                budgetedRoot,
		RawCount:            rawCount,
		NormalizedCount:     normCount,
		InteractiveCount:    interactiveCount,
		NormalizedCharCount: charCount,
		DurationMS:          time.Since(start).Milliseconds(),
		ExceededCharBudget:  exceededChar,
		ExceededTimeBudget:  exceededTime,
		Truncated:           truncated || exceededChar,
	}, nil
}

func buildNormalizedTree(node *cdpaccessibility.Node, byID map[cdpaccessibility.AXNodeID]*cdpaccessibility.Node, deadline time.Time, backendIDs map[int64]cdp.BackendNodeID) (*fleet.AXNode, int, int, bool) {
	if node == nil {
		return nil, 0, 0, false
	}
	role := ""
	if node.Role != nil {
		role = node.Role.Value.String()
	}
	if fleet.DecorativeRoles[role] {
		return nil, 0, 0, false
	}

	name := ""
	if node.Name != nil {
		name = node.Name.Value.String()
	}
	value := ""
	if node.Value != nil {
		value = node.Value.Value.String()
	}

	out := &fleet.AXNode{
		NodeID: int64(hashAXID(node.NodeID)),
		Role:   role,
		Name:   name,
		Value:  value,
	}
	backendIDs[out.NodeID] = node.BackendDOMNodeID

	count := 1
	interactiveCount := 0
	if fleet.InteractiveRoles[fleet.InteractiveRole(role)] {
		interactiveCount = 1
	}
	exceededTime := time.Now().After(deadline)

	for _, childID := range node.ChildIds {
		if exceededTime {
			break
		}
		child := byID[childID]
		childNode, childCount, childInteractive, childExceeded := buildNormalizedTree(child, byID, deadline, backendIDs)
		if childExceeded {
			exceededTime = true
		}
		if childNode != nil {
			out.Children = append(out.Children, childNode)
			count += childCount
			interactiveCount += childInteractive
		}
	}

	return out, count, interactiveCount, exceededTime
}

// applyCharBudget truncates the tree breadth-first once the running
// serialized character count would exceed budget.
func applyCharBudget(root *fleet.AXNode, budget int) (*fleet.AXNode, int, bool, bool) {
	if root == nil {
		return nil, 0, false, false
	}

	type queued struct {
		node   *fleet.AXNode
		parent *fleet.AXNode
	}

	var treeCost func(n *fleet.AXNode) int
	treeCost = func(n *fleet.AXNode) int {
		cost := nodeCharCost(n)
		for _, c := range n.Children {
			cost += treeCost(c)
		}
		return cost
	}
	total := treeCost(root)
	if total <= budget {
		return root, total, false, false
	}

	// Breadth-first rebuild, admitting nodes while budget remains.
	clonedRoot := &fleet.AXNode{NodeID: root.NodeID, Role: root.Role, Name: root.Name, Value: root.Value}
	charCount := nodeCharCost(clonedRoot)
	queue := []queued{}
	for _, c := range root.Children {
		queue = append(queue, queued{node: c, parent: clonedRoot})
	}

	truncated := false
	for len(queue) > 0 {
		head := queue[0]
		queue = queue[1:]
		cost := nodeCharCost(head.node)
		if charCount+cost > budget {
			truncated = true
			continue
		}
		clone := &fleet.AXNode{NodeID: head.node.NodeID, Role: head.node.Role, Name: head.node.Name, Value: head.node.Value}
		head.parent.Children = append(head.parent.Children, clone)
		charCount += cost
		for _, c := range head.node.Children {
			queue = append(queue, queued{node: c, parent: clone})
		}
	}

	return clonedRoot, charCount, truncated, truncated
}

func nodeCharCost(n *fleet.AXNode) int {
	if n == nil {
		return 0
	}
	return len(n.Role) + len(n.Name) + len(n.Value) + 8
}

func hashAXID(id cdpaccessibility.AXNodeID) int64 {
	var h int64
	for _, r := range string(id) {
		h = h*31 + int64(r)
	}
	return h
}

// ExtractInteractiveElementIndex extracts and flattens the subset of the
// normalized tree matching fleet.InteractiveRoles into an ordered index
// with bounding boxes, and reports the size ratio of the index to the
// full normalized tree (spec.md §4.1).
func (s *Session) ExtractInteractiveElementIndex(ctx context.Context, charBudget int, includeBoundingBoxes bool) (*fleet.InteractiveIndexResult, error) {
	tree, err := s.ExtractNormalizedAXTree(ctx, charBudget, 3000, includeBoundingBoxes)
	if err != nil {
		return nil, err
	}

	var index []fleet.InteractiveElement
	var walk func(n *fleet.AXNode)
	walk = func(n *fleet.AXNode) {
		if n == nil {
			return
		}
		if fleet.InteractiveRoles[fleet.InteractiveRole(n.Role)] {
			el := fleet.InteractiveElement{
				NodeID: n.NodeID,
				Role:   fleet.InteractiveRole(n.Role),
				Name:   n.Name,
				Value:  n.Value,
			}
			if includeBoundingBoxes {
				if box, err := boundingBoxForNode(ctx, s, n.NodeID); err == nil {
					el.BoundingBox = box
				}
			}
			index = append(index, el)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(tree.Root)

	indexChars := 0
	for _, el := range index {
		indexChars += len(el.Role) + len(el.Name) + len(el.Value) + 32
	}

	ratio := 0.0
	if tree.NormalizedCharCount > 0 {
		ratio = float64(indexChars) / float64(tree.NormalizedCharCount)
	}

	return &fleet.InteractiveIndexResult{
		Index:          index,
		Tree:           tree,
		IndexCharCount: indexChars,
		SizeRatio:      ratio,
	}, nil
}

// boundingBoxForNode resolves a real viewport-relative bounding box for an
// interactive element via DOM.getBoxModel against the backend DOM node id
// that produced its normalized AX node (spec.md §4.1
// extract_interactive_element_index). It returns the zero box when the
// backend id is unknown or the node has no box (e.g. display:none).
func boundingBoxForNode(ctx context.Context, s *Session, nodeID int64) (fleet.BoundingBox, error) {
	backendID, ok := s.axBackendIDs[nodeID]
	if !ok || backendID == 0 {
		return fleet.BoundingBox{}, nil
	}

	var model *dom.BoxModel
	err := chromedp.Run(s.taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		model, err = dom.GetBoxModel().WithBackendNodeID(backendID).Do(ctx)
		return err
	}))
	if err != nil || model == nil || len(model.Content) < 8 {
		return fleet.BoundingBox{}, nil
	}

	return quadToBoundingBox(model.Content), nil
}

// quadToBoundingBox reduces a CDP content quad (four {x,y} corners,
// clockwise from top-left) to its axis-aligned bounding rectangle.
func quadToBoundingBox(quad []float64) fleet.BoundingBox {
	minX, minY := quad[0], quad[1]
	maxX, maxY := quad[0], quad[1]
	for i := 0; i < len(quad); i += 2 {
		x, y := quad[i], quad[i+1]
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	return fleet.BoundingBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// AXDeficiencySignals is the raw page-health signal set used by PAL to
// decide whether the accessibility tree under-represents the page
// (spec.md §4.1 get_ax_deficiency_signals).
type AXDeficiencySignals struct {
	ReadyState                  string
	IsLoadComplete               bool
	HasSignificantVisualContent bool
	VisibleElementCount          int
	TextCharCount                int
	MediaElementCount             int
	DOMInteractiveCandidateCount int
}

// GetAXDeficiencySignals evaluates document.readyState, a rough visible
// content estimate, and a DOM-level interactive-candidate count used as a
// fallback signal when the accessibility tree itself looks too sparse.
func (s *Session) GetAXDeficiencySignals(ctx context.Context) (*AXDeficiencySignals, error) {
	const script = `(() => {
		const body = document.body;
		const text = body ? body.innerText || "" : "";
		const media = document.querySelectorAll("img, video, canvas, svg").length;
		const candidates = document.querySelectorAll(
			"button, a[href], input, select, textarea, [role=button], [role=link], [onclick]"
		).length;
		const rect = body ? body.getBoundingClientRect() : {width: 0, height: 0};
		return {
			readyState: document.readyState,
			isLoadComplete: document.readyState === "complete",
			hasSignificantVisualContent: (rect.width * rect.height) > 10000 || media > 0,
			visibleElementCount: document.querySelectorAll("body *").length,
			textCharCount: text.length,
			mediaElementCount: media,
			domInteractiveCandidateCount: candidates,
		};
	})()`

	var result struct {
		ReadyState                   string `json:"readyState"`
		IsLoadComplete                bool   `json:"isLoadComplete"`
		HasSignificantVisualContent   bool   `json:"hasSignificantVisualContent"`
		VisibleElementCount           int    `json:"visibleElementCount"`
		TextCharCount                 int    `json:"textCharCount"`
		MediaElementCount             int    `json:"mediaElementCount"`
		DOMInteractiveCandidateCount  int    `json:"domInteractiveCandidateCount"`
	}

	if err := chromedp.Run(s.taskCtx, chromedp.Evaluate(script, &result)); err != nil {
		return nil, s.classifyErr(err)
	}

	return &AXDeficiencySignals{
		ReadyState:                   result.ReadyState,
		IsLoadComplete:               result.IsLoadComplete,
		HasSignificantVisualContent:  result.HasSignificantVisualContent,
		VisibleElementCount:          result.VisibleElementCount,
		TextCharCount:                result.TextCharCount,
		MediaElementCount:            result.MediaElementCount,
		DOMInteractiveCandidateCount: result.DOMInteractiveCandidateCount,
	}, nil
}

// DOMInteractiveElement is one candidate surfaced by the DOM-level fallback
// extraction, used when the accessibility tree is deficient but the raw
// DOM still has plenty of clickable-looking elements (spec.md §4.2 DOM
// bypass).
type DOMInteractiveElement struct {
	Selector string
	Tag      string
	Text     string
	Box      fleet.BoundingBox
}

// ExtractDOMInteractiveElements is the fallback extraction used when the
// accessibility tree is deficient but the DOM itself is rich with
// clickable candidates (spec.md §4.1 extract_dom_interactive_elements).
func (s *Session) ExtractDOMInteractiveElements(ctx context.Context) ([]DOMInteractiveElement, error) {
	const script = `(() => {
		const els = Array.from(document.querySelectorAll(
			"button, a[href], input, select, textarea, [role=button], [role=link]"
		));
		return els.slice(0, 200).map((el, i) => {
			const rect = el.getBoundingClientRect();
			return {
				selector: el.tagName.toLowerCase() + ":nth-of-type(" + (i + 1) + ")",
				tag: el.tagName.toLowerCase(),
				text: (el.innerText || el.value || el.getAttribute("aria-label") || "").slice(0, 80),
				x: rect.x, y: rect.y, width: rect.width, height: rect.height,
			};
		});
	})()`

	var raw []struct {
		Selector string  `json:"selector"`
		Tag      string  `json:"tag"`
		Text     string  `json:"text"`
		X        float64 `json:"x"`
		Y        float64 `json:"y"`
		Width    float64 `json:"width"`
		Height   float64 `json:"height"`
	}

	if err := chromedp.Run(s.taskCtx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil, s.classifyErr(err)
	}

	out := make([]DOMInteractiveElement, 0, len(raw))
	for _, r := range raw {
		out = append(out, DOMInteractiveElement{
			Selector: r.Selector,
			Tag:      r.Tag,
			Text:     r.Text,
			Box:      fleet.BoundingBox{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height},
		})
	}
	return out, nil
}
