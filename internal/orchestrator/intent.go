package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/intent-search/internal/llm"
	"github.com/shubhsaxena/intent-search/internal/models"
	"github.com/shubhsaxena/intent-search/internal/observability"
)

const intentAnalysisPrompt = `A customer of a %s business typed this search query:

"%s"

Work out what problem they are actually trying to solve. Respond with raw
JSON only (no markdown) in exactly this shape:

{
  "primary_problem": "short snake_case label of the core problem",
  "context": ["short situation detail", "another detail"],
  "symptoms": ["observable_symptom_1", "observable_symptom_2"],
  "urgency": "low|medium|high"
}`

const problemExpansionPrompt = `A customer of a %s business has this problem: "%s"
Context: %s
Business domain keywords: %s

List up to 5 related problem formulations that products in this domain might
address, from most to least likely. Use snake_case labels. Respond with raw
JSON only (no markdown):

[
  {"problem": "problem_label", "confidence": 0.9, "category": "category_label"},
  {"problem": "other_label", "confidence": 0.6, "category": "category_label"}
]

Confidence is between 0 and 1.`

// IntentAnalyzer turns a free-text query into a structured problem and a
// ranked set of problem variations. It never returns an error: when the
// model fails, a generic business-type problem stands in.
type IntentAnalyzer struct {
	textGen llm.TextGenerator
	logger  *zap.Logger
}

func NewIntentAnalyzer(textGen llm.TextGenerator, logger *zap.Logger) *IntentAnalyzer {
	return &IntentAnalyzer{textGen: textGen, logger: logger}
}

// AnalyzeIntent extracts the customer's underlying problem from the query.
func (a *IntentAnalyzer) AnalyzeIntent(ctx context.Context, query, businessType string) *models.IntentResult {
	ctx, span := observability.StartSpan(ctx, "intent.analyze",
		attribute.String("query", query),
	)
	defer span.End()

	resp, err := a.textGen.Generate(ctx, fmt.Sprintf(intentAnalysisPrompt, businessType, query))
	if err != nil {
		a.logger.Warn("intent analysis failed, using generic problem", zap.Error(err))
		observability.IntentFallbacksTotal.WithLabelValues("analysis_failed").Inc()
		return fallbackIntent(businessType)
	}

	var result models.IntentResult
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp)), &result); err != nil {
		a.logger.Warn("intent analysis unparseable, using generic problem", zap.Error(err))
		observability.IntentFallbacksTotal.WithLabelValues("analysis_unparseable").Inc()
		return fallbackIntent(businessType)
	}

	result.PrimaryProblem = strings.TrimSpace(result.PrimaryProblem)
	if result.PrimaryProblem == "" {
		return fallbackIntent(businessType)
	}
	switch result.Urgency {
	case models.UrgencyLow, models.UrgencyMedium, models.UrgencyHigh:
	default:
		result.Urgency = models.UrgencyMedium
	}

	return &result
}

// fallbackIntent is the analysis stand-in when the model is unavailable or
// its answer unusable. The generic per-business problem keeps the scenario
// search meaningful, where the raw query text usually would not.
func fallbackIntent(businessType string) *models.IntentResult {
	return &models.IntentResult{
		PrimaryProblem: "general_" + businessType,
		Urgency:        models.UrgencyMedium,
	}
}

// ExpandProblems produces ranked variations of the primary problem, capped
// at five, confidences clamped to [0, 1]. The primary problem itself is the
// sole variation when expansion fails.
func (a *IntentAnalyzer) ExpandProblems(ctx context.Context, intent *models.IntentResult, businessType string, domainKeywords []string) []models.ProblemVariation {
	ctx, span := observability.StartSpan(ctx, "intent.expand",
		attribute.String("problem", intent.PrimaryProblem),
	)
	defer span.End()

	prompt := fmt.Sprintf(problemExpansionPrompt,
		businessType,
		intent.PrimaryProblem,
		strings.Join(intent.Context, "; "),
		strings.Join(domainKeywords, ", "),
	)

	resp, err := a.textGen.Generate(ctx, prompt)
	if err != nil {
		a.logger.Warn("problem expansion failed, using primary problem", zap.Error(err))
		observability.IntentFallbacksTotal.WithLabelValues("expansion_failed").Inc()
		return fallbackVariations(intent)
	}

	var variations []models.ProblemVariation
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp)), &variations); err != nil {
		a.logger.Warn("problem expansion unparseable, using primary problem", zap.Error(err))
		observability.IntentFallbacksTotal.WithLabelValues("expansion_unparseable").Inc()
		return fallbackVariations(intent)
	}

	cleaned := make([]models.ProblemVariation, 0, len(variations))
	for _, v := range variations {
		v.Problem = strings.TrimSpace(v.Problem)
		if v.Problem == "" {
			continue
		}
		v.Confidence = clamp01(v.Confidence)
		if v.Confidence == 0 {
			continue
		}
		cleaned = append(cleaned, v)
		if len(cleaned) == 5 {
			break
		}
	}
	if len(cleaned) == 0 {
		return fallbackVariations(intent)
	}
	return cleaned
}

func fallbackVariations(intent *models.IntentResult) []models.ProblemVariation {
	return []models.ProblemVariation{
		{Problem: intent.PrimaryProblem, Confidence: 1.0, Category: "general"},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
