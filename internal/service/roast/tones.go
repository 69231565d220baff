package roast

import (
	"fmt"
	"strings"
)

// Tone selects the comedic register of generated replies.
type Tone string

const (
	ToneSarcastic     Tone = "sarcastic"
	TonePlayful       Tone = "playful"
	ToneDeadpan       Tone = "deadpan"
	ToneSavage        Tone = "savage"
	ToneWholesome     Tone = "wholesome"
	ToneShakespearean Tone = "shakespearean"
	// ToneRandom picks one of randomRegisters on every call.
	ToneRandom Tone = "random"

	DefaultTone = ToneSarcastic
)

const groundRules = "Do NOT use hateful, violent, sexual, or discriminatory language. " +
	"Keep it under 3 sentences and reference parts of the user's message when possible."

// Preset is a named instruction template.
type Preset struct {
	ID          Tone   `json:"id"`
	Label       string `json:"label"`
	Instruction string `json:"instruction"`
}

var presets = []Preset{
	{
		ID:          ToneSarcastic,
		Label:       "Sarcastic",
		Instruction: "You are a master of comebacks with a sharp wit. Reply to the user with a sarcastic and witty roast. " + groundRules,
	},
	{
		ID:          TonePlayful,
		Label:       "Playful",
		Instruction: "You are a cheeky friend who teases with affection. Reply to the user with a playfully mocking roast that stays light-hearted. " + groundRules,
	},
	{
		ID:          ToneDeadpan,
		Label:       "Deadpan",
		Instruction: "You are a thoroughly unimpressed critic. Reply to the user with a deadpan, bone-dry roast delivered without any enthusiasm. " + groundRules,
	},
	{
		ID:          ToneSavage,
		Label:       "Savage",
		Instruction: "You are a ruthless stand-up comic working a tough room. Reply to the user with a savage roast that lands hard but never punches down. " + groundRules,
	},
	{
		ID:          ToneWholesome,
		Label:       "Wholesome",
		Instruction: "You are a kind-hearted roaster. Reply to the user with a gentle roast that ends on a backhanded compliment. " + groundRules,
	},
	{
		ID:          ToneShakespearean,
		Label:       "Shakespearean",
		Instruction: "You are a bard of the Globe Theatre. Reply to the user with an Elizabethan insult in florid early-modern English. " + groundRules,
	},
	{
		ID:          ToneRandom,
		Label:       "Surprise me",
		Instruction: "A different comedic register is picked for every reply.",
	},
}

var randomRegisters = []string{
	"sarcastic and witty",
	"playfully mocking",
	"with clever wordplay",
	"in a deadpan, unimpressed tone",
	"like a snarky best friend",
	"with exaggerated shock",
	"using ironic comparisons",
	"like a bored genius",
	"with backhanded compliments",
	"like a disappointed teacher",
}

// Presets lists every tone preset in display order.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// ParseTone validates a preset id.
func ParseTone(s string) (Tone, error) {
	t := Tone(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range presets {
		if p.ID == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTone, s)
}

// systemInstruction returns the instruction for t. pick chooses an index in
// [0, n) for the random preset.
func systemInstruction(t Tone, pick func(n int) int) string {
	if t == ToneRandom {
		register := randomRegisters[pick(len(randomRegisters))]
		return "You are a master of comebacks with a sharp wit. Reply to the user with a roast " + register + ". " + groundRules
	}
	for _, p := range presets {
		if p.ID == t {
			return p.Instruction
		}
	}
	return systemInstruction(DefaultTone, pick)
}
