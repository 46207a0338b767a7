package schemas

// -- Element Schemas --

// Rect is an axis aligned rectangle. Its coordinate space depends on the pipeline
// stage that produced it (view local, window absolute, or zoom scaled).
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is an offset in some coordinate space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AncestorEntry describes one element of an ancestor chain.
type AncestorEntry struct {
	TagName    string   `json:"tagName"`
	ID         string   `json:"id,omitempty"`
	ClassNames []string `json:"classNames,omitempty"`
}

// ElementData is the structured description of a picked element.
// The optional enrichment fields are nil when their fetch failed.
type ElementData struct {
	OuterHTML string `json:"outerHTML"`
	StyleText string `json:"styleText"`
	// Bounds is the zoom scaled, window absolute, viewport clipped bound.
	Bounds         Rect              `json:"bounds"`
	Ancestors      []AncestorEntry   `json:"ancestors,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	ComputedStyles map[string]string `json:"computedStyles,omitempty"`
	// Dimensions is the untransformed bound in the target's own coordinate space.
	Dimensions Rect    `json:"dimensions"`
	InnerText  *string `json:"innerText,omitempty"`
}
