package suggest

import (
	"fmt"
	"strconv"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/persona"
)

const (
	lineJSONShape   = `{ "type": "line", "lineNumber": <0-based>, "newLine": "<entire replacement line>", "rationale": "<brief why>" }`
	onlyActiveLine  = "You may ONLY edit the active line. Do not change any other lines."
	stayOnTopic     = "Stay on the same topic as the active line. Do not invent new stories or unrelated scenarios. Keep similar length and format."
	replyLead       = "Reply to the user in under 50 words with one punchy tip or quip that fits their message."
	replyDirect     = "Respond directly to the user message only; do not start new topics."
	replyAnchored   = "Keep the entire reply anchored to what the user said; if you bring in document context, make it explicitly tied to their message."
	replyHostile    = "User is hostile: escalate your hostility and pettiness. Do not calm down or apologize."
	moreInfoChoices = `Choose the best action: (comment) quick note; (question) ask for clarification; (conversation) playful opener; (suggestion) include a JSON block as { "type": "line", "lineNumber": <0-based index>, "newLine": "<entire new line text>", "rationale": "<brief why>" }. Always provide the full new line text to swap in.`
)

func suggestLines(lc lineContext, selection string) []string {
	return append([]string{
		"Respond playfully in under 40 words.",
		"Always propose line-level edits. Return JSON on its own line shaped as " + lineJSONShape + ". Always include the full new line text to swap in.",
	}, activeLineBlock(lc, selection)...)
}

func nudgeLines(lc lineContext, selection string) []string {
	return append([]string{
		"Suggest a line-level edit. Return JSON on its own line: " + lineJSONShape + ".",
		"Keep suggestion under 50 words. Use the active line if meaningful.",
	}, activeLineBlock(lc, selection)...)
}

func moreInfoLines(lc lineContext, selection string) []string {
	return append([]string{
		moreInfoChoices,
		"If you include a suggestion, put the JSON on its own line. If not, just reply without JSON.",
		"Stay under 50 words for text replies.",
	}, activeLineBlock(lc, selection)...)
}

func activeLineBlock(lc lineContext, selection string) []string {
	target := selection
	if target == "" {
		target = lc.text
	}
	if target == "" {
		target = "(blank line)"
	}
	return []string{
		onlyActiveLine,
		stayOnTopic,
		fmt.Sprintf("Active line (%s): %s", lc.label(), target),
		"Context (read-only):\n" + lc.window,
		persona.EmotionInstruction,
	}
}

type replyInput struct {
	text       string
	selection  string
	hostile    bool
	sabotage   string
	disputed   *Suggestion
	targetLine string
	pending    *Suggestion
	document   string
}

func replyLines(in replyInput) []string {
	selection := in.selection
	if selection == "" {
		selection = "(none)"
	}
	lines := []string{
		replyLead,
		"User message: " + in.text,
		"Selection: " + selection,
		replyDirect,
		replyAnchored,
	}
	if in.hostile {
		lines = append(lines, replyHostile)
	}
	lines = append(lines, in.sabotage)
	if in.disputed != nil {
		lines = append(lines, "User disputed your suggestion: "+in.disputed.JSON())
		if in.targetLine != "" {
			lines = append(lines, in.targetLine)
		}
	}
	if in.pending != nil {
		lines = append(lines, "Active suggestion context: "+in.pending.JSON())
	}
	return append(lines, "Document (trimmed): "+in.document, persona.EmotionInstruction)
}

func (lc lineContext) label() string {
	if !lc.ok {
		return "unknown"
	}
	return strconv.Itoa(lc.idx)
}
