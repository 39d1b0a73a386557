package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/shubhsaxena/intent-search/internal/models"
)

// stubGen returns canned responses keyed by a substring of the prompt.
type stubGen struct {
	responses map[string]string
	err       error
	calls     int
}

func (g *stubGen) Generate(_ context.Context, prompt string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	for needle, resp := range g.responses {
		if strings.Contains(prompt, needle) {
			return resp, nil
		}
	}
	return "", errors.New("no stubbed response")
}

func TestAnalyzeIntent(t *testing.T) {
	tests := []struct {
		name        string
		gen         *stubGen
		query       string
		wantProblem string
		wantUrgency string
	}{
		{
			name: "well formed response",
			gen: &stubGen{responses: map[string]string{
				"typed this search query": `{"primary_problem": "plant_wilting", "context": ["houseplant drooping"], "symptoms": ["yellow_leaves"], "urgency": "high"}`,
			}},
			query:       "my plant is dying",
			wantProblem: "plant_wilting",
			wantUrgency: models.UrgencyHigh,
		},
		{
			name: "fenced response",
			gen: &stubGen{responses: map[string]string{
				"typed this search query": "```json\n{\"primary_problem\": \"overwatered_plant\", \"urgency\": \"low\"}\n```",
			}},
			query:       "leaves turning yellow",
			wantProblem: "overwatered_plant",
			wantUrgency: models.UrgencyLow,
		},
		{
			name:        "generation error falls back to generic business problem",
			gen:         &stubGen{err: errors.New("quota exceeded")},
			query:       "my plant is dying",
			wantProblem: "general_garden",
			wantUrgency: models.UrgencyMedium,
		},
		{
			name: "unparseable response falls back",
			gen: &stubGen{responses: map[string]string{
				"typed this search query": "the customer seems worried about their plant",
			}},
			query:       "help my plant",
			wantProblem: "general_garden",
			wantUrgency: models.UrgencyMedium,
		},
		{
			name: "invalid urgency normalized to medium",
			gen: &stubGen{responses: map[string]string{
				"typed this search query": `{"primary_problem": "pest_control", "urgency": "catastrophic"}`,
			}},
			query:       "bugs on leaves",
			wantProblem: "pest_control",
			wantUrgency: models.UrgencyMedium,
		},
		{
			name: "empty problem falls back",
			gen: &stubGen{responses: map[string]string{
				"typed this search query": `{"primary_problem": "  ", "urgency": "low"}`,
			}},
			query:       "something",
			wantProblem: "general_garden",
			wantUrgency: models.UrgencyMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewIntentAnalyzer(tt.gen, zap.NewNop())

			got := a.AnalyzeIntent(context.Background(), tt.query, "garden")
			if got.PrimaryProblem != tt.wantProblem {
				t.Errorf("primary problem = %q, want %q", got.PrimaryProblem, tt.wantProblem)
			}
			if got.Urgency != tt.wantUrgency {
				t.Errorf("urgency = %q, want %q", got.Urgency, tt.wantUrgency)
			}
		})
	}
}

func TestExpandProblems(t *testing.T) {
	intent := &models.IntentResult{PrimaryProblem: "plant_wilting", Urgency: models.UrgencyMedium}

	t.Run("ranked variations pass through", func(t *testing.T) {
		gen := &stubGen{responses: map[string]string{
			"related problem formulations": `[
				{"problem": "plant_wilting", "confidence": 0.95, "category": "plant_health"},
				{"problem": "underwatered_plant", "confidence": 0.7, "category": "watering"},
				{"problem": "root_rot", "confidence": 0.4, "category": "disease"}
			]`,
		}}
		a := NewIntentAnalyzer(gen, zap.NewNop())

		got := a.ExpandProblems(context.Background(), intent, "garden", []string{"garden", "plants"})
		if len(got) != 3 {
			t.Fatalf("got %d variations, want 3", len(got))
		}
		if got[0].Problem != "plant_wilting" || got[0].Confidence != 0.95 {
			t.Errorf("first variation = %+v", got[0])
		}
	})

	t.Run("confidences clamped and zeros dropped", func(t *testing.T) {
		gen := &stubGen{responses: map[string]string{
			"related problem formulations": `[
				{"problem": "a", "confidence": 1.7, "category": "x"},
				{"problem": "b", "confidence": -0.3, "category": "x"},
				{"problem": "c", "confidence": 0.5, "category": "x"}
			]`,
		}}
		a := NewIntentAnalyzer(gen, zap.NewNop())

		got := a.ExpandProblems(context.Background(), intent, "garden", nil)
		if len(got) != 2 {
			t.Fatalf("got %d variations, want 2: %+v", len(got), got)
		}
		if got[0].Confidence != 1.0 {
			t.Errorf("clamped confidence = %v, want 1.0", got[0].Confidence)
		}
	})

	t.Run("capped at five", func(t *testing.T) {
		gen := &stubGen{responses: map[string]string{
			"related problem formulations": `[
				{"problem": "a", "confidence": 0.9},
				{"problem": "b", "confidence": 0.8},
				{"problem": "c", "confidence": 0.7},
				{"problem": "d", "confidence": 0.6},
				{"problem": "e", "confidence": 0.5},
				{"problem": "f", "confidence": 0.4},
				{"problem": "g", "confidence": 0.3}
			]`,
		}}
		a := NewIntentAnalyzer(gen, zap.NewNop())

		got := a.ExpandProblems(context.Background(), intent, "garden", nil)
		if len(got) != 5 {
			t.Errorf("got %d variations, want 5", len(got))
		}
	})

	t.Run("failure falls back to primary problem", func(t *testing.T) {
		gen := &stubGen{err: errors.New("model unavailable")}
		a := NewIntentAnalyzer(gen, zap.NewNop())

		got := a.ExpandProblems(context.Background(), intent, "garden", nil)
		if len(got) != 1 {
			t.Fatalf("got %d variations, want 1", len(got))
		}
		if got[0].Problem != "plant_wilting" || got[0].Confidence != 1.0 || got[0].Category != "general" {
			t.Errorf("fallback variation = %+v", got[0])
		}
	})

	t.Run("empty array falls back", func(t *testing.T) {
		gen := &stubGen{responses: map[string]string{
			"related problem formulations": `[]`,
		}}
		a := NewIntentAnalyzer(gen, zap.NewNop())

		got := a.ExpandProblems(context.Background(), intent, "garden", nil)
		if len(got) != 1 || got[0].Problem != "plant_wilting" {
			t.Errorf("fallback variations = %+v", got)
		}
	})
}
