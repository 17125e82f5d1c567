package models

// Requests for the Bollinger Bands HTTP endpoints.

type CandlesRequest struct {
	From string `query:"from" json:"from"`
	To   string `query:"to" json:"to"`
}

// ComputeRequest is a stateless computation over the loaded series. Omitted
// parameters take the chart defaults.
type ComputeRequest struct {
	Length int     `query:"length" json:"length" default:"20" validate:"gte=1,lte=5000"`
	StdDev float64 `query:"stdDev" json:"stdDev" default:"2" validate:"gte=0,lte=100"`
	Offset int     `query:"offset" json:"offset" validate:"gte=-5000,lte=5000"`
	Source string  `query:"source" json:"source" default:"close" validate:"oneof=open high low close volume"`
}

func (r ComputeRequest) Params() InputParameters {
	return InputParameters{
		Length:           r.Length,
		StdDevMultiplier: r.StdDev,
		Offset:           r.Offset,
		Source:           Source(r.Source),
	}
}

// UpdateInputsRequest carries the settings panel inputs. No defaults apply: a
// zero length from the panel is rejected rather than silently replaced.
type UpdateInputsRequest struct {
	Length int     `json:"length" validate:"gte=1,lte=5000"`
	StdDev float64 `json:"stdDev" validate:"gte=0,lte=100"`
	Offset int     `json:"offset" validate:"gte=-5000,lte=5000"`
	Source string  `json:"source" validate:"required,oneof=open high low close volume"`
}

func (r UpdateInputsRequest) Params() InputParameters {
	return InputParameters{
		Length:           r.Length,
		StdDevMultiplier: r.StdDev,
		Offset:           r.Offset,
		Source:           Source(r.Source),
	}
}
