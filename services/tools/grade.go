package tools

import (
	"context"
	"math"
)

type CalculateGradeInput struct {
	Project       float64 `json:"project" jsonschema:"required,description=Project score percentage (0-100)"`
	Exams         float64 `json:"exams" jsonschema:"required,description=Exam score percentage (0-100)"`
	Participation float64 `json:"participation" jsonschema:"required,description=Participation score percentage (0-100)"`
}

type GradeWeights struct {
	Projects      float64 `json:"projects"`
	Exams         float64 `json:"exams"`
	Participation float64 `json:"participation"`
}

type GradeInputs struct {
	Project       float64 `json:"project"`
	Exams         float64 `json:"exams"`
	Participation float64 `json:"participation"`
}

type CalculateGradeResult struct {
	FinalPercentage float64      `json:"final_percentage"`
	Weights         GradeWeights `json:"weights"`
	Inputs          GradeInputs  `json:"inputs"`
}

// CalculateGradeTool computes the fixed course weighting: projects 60%,
// exams 30%, participation 10%. Inputs are clamped to [0,100] so odd model
// arguments cannot break the math.
type CalculateGradeTool struct{}

func NewCalculateGradeTool() CalculateGradeTool {
	return CalculateGradeTool{}
}

func (t CalculateGradeTool) Name() string {
	return "calculate_grade"
}

func (t CalculateGradeTool) Description() string {
	return "Compute weighted grade from project/exam/participation percentages (0-100)."
}

func (t CalculateGradeTool) Schema() map[string]interface{} {
	return generateSchema[CalculateGradeInput]()
}

func (t CalculateGradeTool) Call(ctx context.Context, arguments string) (any, error) {
	params := decodeParams[CalculateGradeInput](arguments)

	project := clampPercent(params.Project)
	exams := clampPercent(params.Exams)
	participation := clampPercent(params.Participation)

	final := project*0.60 + exams*0.30 + participation*0.10

	return CalculateGradeResult{
		FinalPercentage: math.Round(final*100) / 100,
		Weights:         GradeWeights{Projects: 0.60, Exams: 0.30, Participation: 0.10},
		Inputs:          GradeInputs{Project: project, Exams: exams, Participation: participation},
	}, nil
}

func clampPercent(x float64) float64 {
	return math.Max(0.0, math.Min(100.0, x))
}
