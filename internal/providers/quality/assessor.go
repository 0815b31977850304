package quality

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

// Assessment scores how suitable a source photo is for headshot generation.
// Scores run 0..1; a low score never blocks processing, it only feeds the
// final recommendations.
type Assessment struct {
	SuitabilityScore float64  `json:"suitability_score"`
	Recommendations  []string `json:"recommendations,omitempty"`
}

// Assessor is the collaborator interface for photo-quality checks.
type Assessor interface {
	Assess(ctx context.Context, photo []byte) (*Assessment, error)
}

const (
	minDimension       = 512
	preferredDimension = 1024
	maxAspectSkew      = 2.0
)

// HeuristicAssessor scores photos from their decoded geometry. It is the
// local stand-in for a hosted quality model and deliberately cheap: the
// scheduler calls it once per job before any provider work.
type HeuristicAssessor struct{}

// NewHeuristicAssessor creates an assessor with the default thresholds.
func NewHeuristicAssessor() *HeuristicAssessor {
	return &HeuristicAssessor{}
}

// Assess inspects the photo header and derives a suitability score plus
// user-facing recommendations.
func (a *HeuristicAssessor) Assess(ctx context.Context, photo []byte) (*Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(photo) == 0 {
		return &Assessment{
			SuitabilityScore: 0,
			Recommendations:  []string{"upload a photo before requesting generation"},
		}, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(photo))
	if err != nil {
		return &Assessment{
			SuitabilityScore: 0.3,
			Recommendations:  []string{"photo format could not be read, use PNG or JPEG"},
		}, nil
	}

	score := 1.0
	var recs []string

	shortest := cfg.Width
	if cfg.Height < shortest {
		shortest = cfg.Height
	}
	switch {
	case shortest < minDimension:
		score -= 0.4
		recs = append(recs, "use a higher resolution photo, at least 512px on the short side")
	case shortest < preferredDimension:
		score -= 0.15
		recs = append(recs, "a 1024px or larger photo will produce sharper results")
	}

	aspect := float64(cfg.Width) / float64(cfg.Height)
	if aspect > maxAspectSkew || aspect < 1/maxAspectSkew {
		score -= 0.25
		recs = append(recs, "crop closer to the face, extreme aspect ratios reduce quality")
	}

	if score < 0 {
		score = 0
	}
	return &Assessment{SuitabilityScore: score, Recommendations: recs}, nil
}

var _ Assessor = (*HeuristicAssessor)(nil)
