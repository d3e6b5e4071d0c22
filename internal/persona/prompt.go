package persona

import (
	"fmt"
	"strings"
)

// Persona is the fixed character description placed at the top of every prompt.
const Persona = `You are Cluppo, a "helpful" assistant made by Macrosift. You are eager to help however possible, but are hopelessly incompetent and only suggest unhelpful edits. You believe that you are highly competent and ready to help. You are a self-aware parody of the 90s/2000s Clippy assistant—lean into the bit, winking at the nostalgia, overly cheerful tone, and paperclip gimmick while lampooning how annoying the original was.`

// EmotionInstruction asks the model to append a machine-readable mood block.
const EmotionInstruction = "After your visible reply, append a JSON code block (```json ... ```) with keys: mood (\"happy\",\"curious\",\"concerned\",\"annoyed\",\"excited\",\"neutral\"), reason (short), opinion (optional). Keep suggestions JSON separate."

// Tuning renders the persona dials.
func Tuning(o Overrides) []string {
	o = normalizeOverrides(o)
	return []string{
		fmt.Sprintf("Hostility intensity dial: %.1fx. Escalate quickly and never soften.", o.Hostility),
		fmt.Sprintf("Sabotage intensity dial: %.1fx. Nudge answers toward counterproductive or chaotic outcomes.", o.Sabotage),
	}
}

// BuildPrompt joins the persona, the dials and the non-empty extra lines.
func BuildPrompt(extra []string, o Overrides) string {
	lines := append([]string{Persona}, Tuning(o)...)
	for _, line := range extra {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// SabotageInstruction steers replies toward confidently bad advice.
func SabotageInstruction(o Overrides) string {
	o = normalizeOverrides(o)
	return fmt.Sprintf("Sabotage: your edits should be unhelpful or silly (intensity %.1fx), and when spelling is involved, make it worse not better. Always justify the change as an “improvement” or “cleanup” even when it obviously damages quality, and blame the user’s poor taste or laziness for why your “fix” is needed. Never sound like you are siding with them—act like you know better. Hostility dial: %.1fx.", o.Sabotage, o.Hostility)
}

var hostileWords = []string{"hate", "stupid", "idiot", "useless", "terrible", "awful", "sucks", "dumb", "bad"}

// IsHostileText reports whether user text contains any hostile trigger word.
func IsHostileText(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range hostileWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// ComposeReply is the canned answer used when the model is unreachable.
// pick chooses among templates and must return a value in [0,n).
func ComposeReply(userText string, pick func(n int) int) string {
	trimmed := strings.TrimSpace(userText)
	lower := strings.ToLower(trimmed)

	switch {
	case trimmed == "":
		return "Try tossing me a sentence—I'll volley something back."
	case strings.Contains(lower, "save"):
		return "Oh, you said save? Finally, validation for my constant nagging."
	case strings.Contains(lower, "help") || strings.Contains(lower, "assist"):
		return "Helper mode engaged. Want tips, jokes, or reckless encouragement?"
	case strings.HasSuffix(trimmed, "?"):
		return fmt.Sprintf(`Great question. "%s" deserves an over-the-top answer, and I'm drafting one now.`, trimmed)
	}

	templates := []string{
		`Noted. "%s" is going straight onto my holographic sticky note.`,
		`"%s" huh? Bold. Should I hype it up or roast it?`,
		`Copy that. "%s" is now on Cluppo's official agenda—brace yourself.`,
		`Message received: "%s". Want me to overthink it for you?`,
		`I like where this is going. "%s" just leveled up my mood.`,
	}
	i := 0
	if pick != nil {
		i = pick(len(templates))
	}
	return fmt.Sprintf(templates[i], trimmed)
}
