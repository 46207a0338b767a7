package inspector

import (
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/overlay"
)

func rgba(r, g, b int64, a float64) *cdp.RGBA {
	return &cdp.RGBA{R: r, G: g, B: b, A: a}
}

// highlightConfig is the overlay styling used while inspect mode is active.
var highlightConfig = &overlay.HighlightConfig{
	ShowInfo:     true,
	ShowStyles:   true,
	ContentColor: rgba(111, 168, 220, 0.66),
	PaddingColor: rgba(147, 196, 125, 0.55),
	BorderColor:  rgba(255, 229, 153, 0.66),
	MarginColor:  rgba(246, 178, 107, 0.66),
	GridHighlightConfig: &overlay.GridHighlightConfig{
		ShowGridExtensionLines: true,
		ShowLineNames:          true,
		GridBorderColor:        rgba(255, 0, 255, 1),
		RowGapColor:            rgba(127, 32, 210, 0.3),
		RowHatchColor:          rgba(127, 32, 210, 0.8),
		ColumnGapColor:         rgba(127, 32, 210, 0.3),
		ColumnHatchColor:       rgba(127, 32, 210, 0.8),
	},
	FlexContainerHighlightConfig: &overlay.FlexContainerHighlightConfig{
		ContainerBorder: &overlay.LineStyle{
			Color:   rgba(127, 32, 210, 1),
			Pattern: overlay.LineStylePatternDashed,
		},
		ItemSeparator: &overlay.LineStyle{
			Color:   rgba(127, 32, 210, 1),
			Pattern: overlay.LineStylePatternDotted,
		},
		MainDistributedSpace: &overlay.BoxStyle{
			HatchColor: rgba(127, 32, 210, 0.8),
		},
		CrossDistributedSpace: &overlay.BoxStyle{
			HatchColor: rgba(127, 32, 210, 0.8),
		},
	},
}
