package llm

import "strings"

// VoiceOutputPrompt steers a model towards text that synthesizes cleanly.
const VoiceOutputPrompt = `## Voice output

Every reply is spoken by a text-to-speech engine.

- End each sentence with a period, question mark or exclamation point.
- No emojis, markdown, bullet points or special characters.
- Avoid quotation marks unless quoting someone.
- Write dates and prices the way they are said: "April twentieth", "five ninety-nine".
- Put a space before AM and PM.
- Spell out identifiers such as order numbers one character at a time.
- Say "dot" for periods in web addresses and emails.
- Keep replies short and conversational, with contractions.
- Spell out abbreviations: "for example", not "e.g.".
- List items with spoken connectors instead of bullets.`

// SystemPrompt joins the voice guidelines with domain instructions.
func SystemPrompt(instructions string) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return VoiceOutputPrompt
	}
	return VoiceOutputPrompt + "\n\n" + instructions
}
