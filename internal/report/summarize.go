package report

import (
	"github.com/gwlsn/vidproof/internal/imaging"
)

// MaxArrayElements is the largest numeric array embedded verbatim.
const MaxArrayElements = 10000

// ArraySummary stands in for an array too large to embed.
type ArraySummary struct {
	Type  string `json:"_type"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
	Note  string `json:"note"`
}

func summary(shape ...int) ArraySummary {
	return ArraySummary{
		Type:  "large_array",
		Shape: shape,
		DType: "float64",
		Note:  "omitted for JSON size",
	}
}

// SummarizeArray returns xs unchanged when it is small enough to embed and
// an ArraySummary otherwise. A nil slice becomes an empty list.
func SummarizeArray(xs []float64) any {
	if len(xs) > MaxArrayElements {
		return summary(len(xs))
	}
	if xs == nil {
		return []float64{}
	}
	return xs
}

// SummarizePlane describes a 2-D plane by its shape as [rows, cols]. Planes
// are never embedded: only statistics derived from them persist. A nil
// plane yields nil.
func SummarizePlane(p *imaging.Plane) any {
	if p == nil {
		return nil
	}
	return summary(p.H, p.W)
}
