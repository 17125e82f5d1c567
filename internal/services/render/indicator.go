// Package render turns band points and style settings into the indicator
// description consumed by the chart widget.
package render

import (
	"fmt"
	"strconv"

	"BollingerChart/internal/domain/models"
)

const (
	IndicatorID   = "bb_indicator"
	IndicatorName = "BB"
	AreaKey       = "upper_lower_area"
)

type Figure struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type Line struct {
	Color string           `json:"color"`
	Size  int              `json:"size"`
	Style models.LineStyle `json:"style"`
}

// Area fills the space between two figures.
type Area struct {
	Key     string  `json:"key"`
	Color   string  `json:"color"`
	Opacity float64 `json:"opacity"`
}

type Styles struct {
	Lines []Line `json:"lines"`
	Areas []Area `json:"areas"`
}

type Indicator struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	ShortName string                 `json:"shortName"`
	Inputs    models.InputParameters `json:"inputs"`
	Figures   []Figure               `json:"figures"`
	Styles    Styles                 `json:"styles"`
	Data      []models.BandPoint     `json:"data"`
}

// ShortName renders the legend label, e.g. "BB(20, 2)".
func ShortName(p models.InputParameters) string {
	return fmt.Sprintf("%s(%d, %s)", IndicatorName, p.Length, strconv.FormatFloat(p.StdDevMultiplier, 'f', -1, 64))
}

// Build describes the indicator for freshly computed points.
func Build(p models.InputParameters, points []models.BandPoint, s models.StyleParameters) Indicator {
	if points == nil {
		points = []models.BandPoint{}
	}
	ind := Indicator{
		ID:        IndicatorID,
		Name:      IndicatorName,
		ShortName: ShortName(p),
		Inputs:    p,
		Data:      points,
	}
	return ind.Restyle(s)
}

// Restyle replaces the figures and styles and keeps the computed data as is.
func (ind Indicator) Restyle(s models.StyleParameters) Indicator {
	ind.Figures, ind.Styles = Layout(s)
	return ind
}

// Layout lists figures and line styles for the visible bands in drawing order
// (upper, basis, lower). Hidden bands get neither a figure nor a line. The fill
// is added only when both outer bands and the background are visible.
func Layout(s models.StyleParameters) ([]Figure, Styles) {
	figures := make([]Figure, 0, 3)
	styles := Styles{Lines: make([]Line, 0, 3), Areas: make([]Area, 0, 1)}

	bands := []struct {
		key   string
		title string
		style models.BandStyle
	}{
		{"upper", "Upper: ", s.Upper},
		{"basis", "Basis: ", s.Basis},
		{"lower", "Lower: ", s.Lower},
	}
	for _, b := range bands {
		if !b.style.Visible {
			continue
		}
		figures = append(figures, Figure{Key: b.key, Title: b.title, Type: "line"})
		styles.Lines = append(styles.Lines, Line{Color: b.style.Color, Size: b.style.LineWidth, Style: lineStyle(b.style.LineStyle)})
	}

	if s.Background.Visible && s.Upper.Visible && s.Lower.Visible {
		styles.Areas = append(styles.Areas, Area{Key: AreaKey, Color: s.Upper.Color, Opacity: s.Background.Opacity})
	}
	return figures, styles
}

func lineStyle(ls models.LineStyle) models.LineStyle {
	if ls == models.LineDashed {
		return models.LineDashed
	}
	return models.LineSolid
}
