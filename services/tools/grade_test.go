package tools

import (
	"context"
	"testing"
)

func TestCalculateGrade(t *testing.T) {
	tool := NewCalculateGradeTool()

	tests := []struct {
		name      string
		arguments string
		want      float64
	}{
		{"all ninety", `{"project": 90, "exams": 90, "participation": 90}`, 90.0},
		{"weighted mix", `{"project": 100, "exams": 50, "participation": 0}`, 75.0},
		{"out of range inputs clamped", `{"project": -10, "exams": 150, "participation": 50}`, 35.0},
		{"rounded to two decimals", `{"project": 33.333, "exams": 33.333, "participation": 33.333}`, 33.33},
		{"empty arguments", "", 0.0},
		{"malformed arguments degrade to zero inputs", `{not json`, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Call(context.Background(), tt.arguments)
			if err != nil {
				t.Fatalf("Call returned error: %v", err)
			}

			grade, ok := result.(CalculateGradeResult)
			if !ok {
				t.Fatalf("unexpected result type %T", result)
			}
			if grade.FinalPercentage != tt.want {
				t.Errorf("final percentage = %v, want %v", grade.FinalPercentage, tt.want)
			}
		})
	}
}

func TestCalculateGradeReportsWeightsAndClampedInputs(t *testing.T) {
	tool := NewCalculateGradeTool()

	result, err := tool.Call(context.Background(), `{"project": -10, "exams": 150, "participation": 50}`)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	grade := result.(CalculateGradeResult)

	if grade.Weights != (GradeWeights{Projects: 0.60, Exams: 0.30, Participation: 0.10}) {
		t.Errorf("weights = %+v", grade.Weights)
	}
	if grade.Inputs != (GradeInputs{Project: 0, Exams: 100, Participation: 50}) {
		t.Errorf("clamped inputs = %+v", grade.Inputs)
	}
}
