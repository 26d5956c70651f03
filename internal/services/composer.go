package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/SerOes/instaai-sub001/internal/models"

	"github.com/sirupsen/logrus"
)

// Composer categories for deterministic outcomes.
const (
	CategoryBlocked     = "blocked"
	CategoryOutOfOffice = "out_of_office"
)

// ComposeInput bundles everything the composer needs for one reply.
type ComposeInput struct {
	Message        *models.DirectMessage
	History        []models.DirectMessage
	Settings       *models.AutomationSettings
	Classification ClassificationResult
	Brand          string
}

// ComposeResult is the composed reply. Blocked means the message hit the
// blacklist and nothing may be sent.
type ComposeResult struct {
	Text         string  `json:"text"`
	Blocked      bool    `json:"blocked"`
	Confidence   float64 `json:"confidence"`
	Category     string  `json:"category"`
	UsedFallback bool    `json:"used_fallback"`
	Model        string  `json:"model,omitempty"`
}

// Composer builds a single reply per inbound message. Deterministic paths
// win over generative composition; provider failures degrade to a generic
// template and never propagate.
type Composer struct {
	provider TextProvider
	logger   *logrus.Logger
	model    string
	timeout  time.Duration

	// now is swapped in tests to pin the operating-hours gate.
	now func() time.Time
}

func NewComposer(provider TextProvider, model string, timeout time.Duration, logger *logrus.Logger) *Composer {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Composer{
		provider: provider,
		logger:   logger,
		model:    model,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Compose applies the precedence chain: blacklist, operating hours,
// keyword canned reply, category canned reply, generative fallback.
func (c *Composer) Compose(ctx context.Context, in ComposeInput) ComposeResult {
	settings := in.Settings
	content := ""
	if in.Message != nil {
		content = in.Message.Content
	}

	// 1. Blacklist short-circuit: nothing is ever sent for these.
	if phrase, hit := containsBlacklisted(content, settings.BlacklistedPhrases); hit {
		c.logger.Debugf("composer: message blocked by blacklisted phrase %q", phrase)
		return ComposeResult{Blocked: true, Confidence: 1.0, Category: CategoryBlocked}
	}

	// 2. Operating-hours gate.
	outsideHours := settings.OperatingHours.Enabled && !withinOperatingHours(settings.OperatingHours, c.now())
	if outsideHours && settings.OutOfOfficeMessage != "" {
		return ComposeResult{
			Text:       settings.OutOfOfficeMessage,
			Confidence: 1.0,
			Category:   CategoryOutOfOffice,
		}
	}

	// 3. Keyword-triggered canned reply: operator-authored, returned verbatim.
	if rule := in.Classification.MatchedRule; rule != nil && rule.Response != "" {
		return ComposeResult{
			Text:       rule.Response,
			Confidence: 1.0,
			Category:   in.Classification.Category,
		}
	}

	// 4. Category-triggered canned reply.
	if canned, ok := settings.CategoryResponses[in.Classification.Category]; ok && canned != "" {
		return ComposeResult{
			Text:       canned,
			Confidence: 1.0,
			Category:   in.Classification.Category,
		}
	}

	// 5. Generative fallback.
	return c.composeGenerative(ctx, in, outsideHours)
}

func (c *Composer) composeGenerative(ctx context.Context, in ComposeInput, outsideHours bool) ComposeResult {
	settings := in.Settings
	instruction := c.buildInstruction(settings, in.Brand, outsideHours)
	turns := buildContextTurns(in.History, in.Message, settings.ContextWindow)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.provider.Generate(ctx, instruction, turns, GenerateOptions{
		Model:       c.model,
		Temperature: 0.7,
	})
	if err != nil {
		c.logger.Warnf("composer: generative call failed, using generic template: %v", err)
		return ComposeResult{
			Text:         genericApology(settings.Language),
			Confidence:   0.2,
			Category:     in.Classification.Category,
			UsedFallback: true,
		}
	}

	text, safe := postFilter(raw, settings)
	if !safe {
		c.logger.Warn("composer: generated text still contained blacklisted phrasing, using generic template")
		text = genericApology(settings.Language)
	}

	return ComposeResult{
		Text:         text,
		Confidence:   heuristicConfidence(text),
		Category:     in.Classification.Category,
		UsedFallback: true,
		Model:        c.model,
	}
}

// Suggest produces n short alternative replies for human review. It never
// mutates persisted state.
func (c *Composer) Suggest(ctx context.Context, message string, settings *models.AutomationSettings, n int) []string {
	if n <= 0 {
		n = 3
	}
	if n > 5 {
		n = 5
	}

	instruction := fmt.Sprintf(
		"%s\nProduce %d short alternative replies to the customer's message. "+
			"Respond with exactly one JSON array of %d strings and nothing else.",
		c.buildInstruction(settings, "", false), n, n)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.provider.Generate(ctx, instruction,
		[]ConversationTurn{{Role: "sender", Content: message}},
		GenerateOptions{Model: c.model, Temperature: 0.9})
	if err != nil {
		c.logger.Warnf("composer: suggestion call failed: %v", err)
		return fallbackSuggestions(settings.Language, n)
	}

	suggestions, err := decodeSuggestions(raw, settings, n)
	if err != nil {
		c.logger.Warnf("composer: %v", err)
		return fallbackSuggestions(settings.Language, n)
	}
	return suggestions
}

func (c *Composer) buildInstruction(settings *models.AutomationSettings, brand string, outsideHours bool) string {
	b := &strings.Builder{}
	if settings.SystemPrompt != "" {
		b.WriteString(settings.SystemPrompt)
		b.WriteString("\n\n")
	}
	if brand != "" {
		fmt.Fprintf(b, "You answer direct messages on behalf of %s. ", brand)
	} else {
		b.WriteString("You answer customer direct messages for a business account. ")
	}
	fmt.Fprintf(b, "Write in a %s tone. ", settings.Tone)
	fmt.Fprintf(b, "Answer in %s. ", languageName(settings.Language))
	fmt.Fprintf(b, "Your reply must stay within %d characters. ", settings.MaxResponseLength)
	if len(settings.BlacklistedPhrases) > 0 {
		fmt.Fprintf(b, "Never use any of the following phrases: %s. ",
			strings.Join(settings.BlacklistedPhrases, "; "))
	}
	if outsideHours {
		b.WriteString("The business is currently outside its answering hours; " +
			"let the customer know politely that a full answer may take until the next business day. ")
	}
	b.WriteString("Reply with the message text only, no preamble.")
	return b.String()
}

// buildContextTurns maps the bounded history onto provider turns, oldest
// first. The triggering message is always the newest turn, even if the
// stored history missed it.
func buildContextTurns(history []models.DirectMessage, message *models.DirectMessage, window int) []ConversationTurn {
	if window <= 0 {
		window = 5
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}

	turns := make([]ConversationTurn, 0, len(history)+1)
	seen := false
	for _, m := range history {
		role := "sender"
		if m.Direction == models.DirectionOutbound {
			role = "assistant"
		}
		turns = append(turns, ConversationTurn{Role: role, Content: m.Content})
		if message != nil && m.ID == message.ID {
			seen = true
		}
	}
	if message != nil && !seen {
		turns = append(turns, ConversationTurn{Role: "sender", Content: message.Content})
		if len(turns) > window {
			turns = turns[len(turns)-window:]
		}
	}
	return turns
}

// postFilter truncates to the configured length and re-checks the result
// against the blacklist. Offending sentences are stripped; if nothing safe
// remains the second return value is false.
func postFilter(text string, settings *models.AutomationSettings) (string, bool) {
	text = strings.TrimSpace(text)
	text = truncateRunes(text, settings.MaxResponseLength)

	if _, hit := containsBlacklisted(text, settings.BlacklistedPhrases); !hit {
		return text, true
	}

	sentences := splitSentences(text)
	kept := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if _, hit := containsBlacklisted(s, settings.BlacklistedPhrases); !hit {
			kept = append(kept, s)
		}
	}
	cleaned := strings.TrimSpace(strings.Join(kept, " "))
	if cleaned == "" {
		return "", false
	}
	return cleaned, true
}

func containsBlacklisted(text string, phrases []string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, phrase := range phrases {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" {
			continue
		}
		if strings.Contains(lowered, p) {
			return phrase, true
		}
	}
	return "", false
}

// withinOperatingHours checks the window configured for now's weekday.
// A day without a window is closed. Windows with end before start span
// midnight.
func withinOperatingHours(oh models.OperatingHours, now time.Time) bool {
	day := strings.ToLower(now.Weekday().String())
	window, ok := oh.PerDay[day]
	if !ok {
		return false
	}
	start, err := time.Parse("15:04", window.Start)
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", window.End)
	if err != nil {
		return false
	}
	minutes := now.Hour()*60 + now.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()
	if startMin <= endMin {
		return minutes >= startMin && minutes < endMin
	}
	return minutes >= startMin || minutes < endMin
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// heuristicConfidence estimates how trustworthy a generated reply is when
// the provider reports nothing. Very short or boilerplate-looking replies
// score lower; the documented default is 0.5.
func heuristicConfidence(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < 20 {
		return 0.35
	}
	lowered := strings.ToLower(trimmed)
	for _, generic := range []string{"i cannot", "i can't", "as an ai", "ich kann nicht"} {
		if strings.Contains(lowered, generic) {
			return 0.3
		}
	}
	return 0.5
}

func languageName(code string) string {
	switch code {
	case models.LanguageEnglish:
		return "English"
	case models.LanguageTurkish:
		return "Turkish"
	default:
		return "German"
	}
}

func genericApology(language string) string {
	switch language {
	case models.LanguageEnglish:
		return "Thanks for your message! We'll get back to you personally as soon as possible."
	case models.LanguageTurkish:
		return "Mesajınız için teşekkürler! En kısa sürede size kişisel olarak döneceğiz."
	default:
		return "Danke für deine Nachricht! Wir melden uns so schnell wie möglich persönlich bei dir."
	}
}

func fallbackSuggestions(language string, n int) []string {
	base := []string{genericApology(language)}
	switch language {
	case models.LanguageEnglish:
		base = append(base,
			"Thank you for reaching out - could you share a few more details?",
			"We appreciate your message and will follow up shortly.")
	case models.LanguageTurkish:
		base = append(base,
			"Bize ulaştığınız için teşekkürler - biraz daha detay paylaşabilir misiniz?",
			"Mesajınız için teşekkürler, kısa süre içinde dönüş yapacağız.")
	default:
		base = append(base,
			"Danke für deine Nachricht - magst du uns ein paar Details mehr geben?",
			"Vielen Dank! Wir kümmern uns darum und melden uns gleich.")
	}
	if n < len(base) {
		return base[:n]
	}
	return base
}

func decodeSuggestions(raw string, settings *models.AutomationSettings, n int) ([]string, error) {
	trimmed := strings.TrimSpace(raw)
	var items []string
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		start := strings.Index(trimmed, "[")
		end := strings.LastIndex(trimmed, "]")
		if start < 0 || end <= start {
			return nil, &ParseError{Raw: raw, Err: fmt.Errorf("no JSON array in output")}
		}
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &items); err != nil {
			return nil, &ParseError{Raw: raw, Err: err}
		}
	}

	out := make([]string, 0, n)
	for _, item := range items {
		item = truncateRunes(strings.TrimSpace(item), settings.MaxResponseLength)
		if item == "" {
			continue
		}
		if _, hit := containsBlacklisted(item, settings.BlacklistedPhrases); hit {
			continue
		}
		out = append(out, item)
		if len(out) == n {
			break
		}
	}
	if len(out) == 0 {
		return nil, &ParseError{Raw: raw, Err: fmt.Errorf("no usable suggestions in output")}
	}
	return out, nil
}
