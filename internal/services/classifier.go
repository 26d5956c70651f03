package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/SerOes/instaai-sub001/internal/models"

	"github.com/sirupsen/logrus"
)

// Sentiment labels.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// CategoryGeneral is the neutral fallback category used whenever the
// provider output cannot be trusted.
const CategoryGeneral = "general"

// ClassificationResult is the ephemeral outcome of classifying one message.
type ClassificationResult struct {
	Category   string  `json:"category"`
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`

	// MatchedRule is set when the deterministic keyword pass decided the
	// category; the composer returns its canned response verbatim.
	MatchedRule *models.KeywordRule `json:"-"`
}

// Classifier determines message category and sentiment: a deterministic
// keyword pass first, then a delegated provider call. Provider and parse
// failures are absorbed here and degrade to a neutral result; they never
// abort the pipeline.
type Classifier struct {
	provider TextProvider
	logger   *logrus.Logger
}

func NewClassifier(provider TextProvider, logger *logrus.Logger) *Classifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &Classifier{provider: provider, logger: logger}
}

// MatchKeywordRule scans the configured rules in insertion order and
// returns the first whose keyword occurs in the text, case-insensitive.
func MatchKeywordRule(text string, rules []models.KeywordRule) *models.KeywordRule {
	lowered := strings.ToLower(text)
	for i := range rules {
		keyword := strings.ToLower(strings.TrimSpace(rules[i].Keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(lowered, keyword) {
			return &rules[i]
		}
	}
	return nil
}

// Classify runs the deterministic pass and, when no rule matches, delegates
// to the provider. A matched rule short-circuits with confidence 1.0.
func (c *Classifier) Classify(ctx context.Context, text string, settings *models.AutomationSettings) ClassificationResult {
	if rule := MatchKeywordRule(text, settings.KeywordRules); rule != nil {
		category := rule.Category
		if category == "" {
			category = "keyword"
		}
		return ClassificationResult{
			Category:    category,
			Sentiment:   SentimentNeutral,
			Confidence:  1.0,
			MatchedRule: rule,
		}
	}

	raw, err := c.provider.Generate(ctx, classifyInstruction,
		[]ConversationTurn{{Role: "sender", Content: text}},
		GenerateOptions{MaxTokens: 150, Temperature: 0.1})
	if err != nil {
		c.logger.Warnf("classifier: provider call failed, using neutral result: %v", err)
		return neutralClassification()
	}

	result, err := decodeClassification(raw)
	if err != nil {
		c.logger.Warnf("classifier: %v", err)
		return neutralClassification()
	}
	return result
}

const classifyInstruction = `You classify a single customer direct message.
Respond with exactly one JSON object and nothing else:
{"category":"<one word, lowercase>","sentiment":"positive|neutral|negative","confidence":<0.0-1.0>}`

func neutralClassification() ClassificationResult {
	return ClassificationResult{
		Category:   CategoryGeneral,
		Sentiment:  SentimentNeutral,
		Confidence: 0.0,
	}
}

// decodeClassification is the single defensive decode step for provider
// output. Models wrap JSON in prose or code fences often enough that we
// first try the raw string, then the outermost brace-delimited slice.
// Anything still unparsable yields a ParseError; each field has a
// documented fallback (category "general", sentiment neutral, confidence
// clamped to [0,1]).
func decodeClassification(raw string) (ClassificationResult, error) {
	type wire struct {
		Category   string   `json:"category"`
		Sentiment  string   `json:"sentiment"`
		Confidence *float64 `json:"confidence"`
	}

	var w wire
	trimmed := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		start := strings.Index(trimmed, "{")
		end := strings.LastIndex(trimmed, "}")
		if start < 0 || end <= start {
			return neutralClassification(), &ParseError{Raw: raw, Err: fmt.Errorf("no JSON object in output")}
		}
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &w); err != nil {
			return neutralClassification(), &ParseError{Raw: raw, Err: err}
		}
	}

	result := neutralClassification()
	if category := strings.ToLower(strings.TrimSpace(w.Category)); category != "" {
		result.Category = category
	}
	switch strings.ToLower(strings.TrimSpace(w.Sentiment)) {
	case SentimentPositive:
		result.Sentiment = SentimentPositive
	case SentimentNegative:
		result.Sentiment = SentimentNegative
	}
	if w.Confidence != nil {
		confidence := *w.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		result.Confidence = confidence
	}
	return result, nil
}
