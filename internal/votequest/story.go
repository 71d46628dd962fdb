package votequest

import "strings"

// The story text is canned: each theme carries one chapter per round and
// each chapter offers the fixed three choices. Picking lines here is a
// data lookup, not generation.

// ChoicesPerRound is constant across a quest's whole run.
const ChoicesPerRound = 3

// MaxRounds is the fixed length of a quest.
const MaxRounds = 5

type chapter struct {
	prompt  string
	choices [ChoicesPerRound]string
}

var storylines = map[string][]chapter{
	"dungeon": {
		{"The party stands before the ruined gate.", [ChoicesPerRound]string{"Force the gate", "Circle the walls", "Call out a greeting"}},
		{"Torchlight reveals three passages down.", [ChoicesPerRound]string{"Take the wet stairs", "Follow the dry corridor", "Squeeze through the crack"}},
		{"Something large breathes in the dark ahead.", [ChoicesPerRound]string{"Sneak past it", "Light every torch", "Throw the rations"}},
		{"A vault door bears a riddle in old script.", [ChoicesPerRound]string{"Answer the riddle", "Pick the lock", "Break the hinges"}},
		{"The hoard glitters, but the floor is trapped.", [ChoicesPerRound]string{"Grab and run", "Disarm the plates", "Take only one coin"}},
	},
	"voyage": {
		{"The harbor master offers two ships and a rowboat.", [ChoicesPerRound]string{"Take the galleon", "Take the sloop", "Take the rowboat"}},
		{"A storm front builds on the horizon.", [ChoicesPerRound]string{"Sail into it", "Run along the coast", "Drop anchor and wait"}},
		{"A drifting wreck flies a tattered flag.", [ChoicesPerRound]string{"Board the wreck", "Salvage from a distance", "Leave it be"}},
		{"The lookout swears the island moved.", [ChoicesPerRound]string{"Land anyway", "Chart it from afar", "Turn for open sea"}},
		{"Home port is in sight, cargo hold groaning.", [ChoicesPerRound]string{"Declare everything", "Hide the strange idol", "Sell at sea first"}},
	},
}

const defaultTheme = "dungeon"

// normalizeTheme maps arbitrary input to a known storyline name.
func normalizeTheme(theme string) string {
	t := strings.ToLower(strings.TrimSpace(theme))
	if _, ok := storylines[t]; !ok {
		return defaultTheme
	}
	return t
}

// chapterFor returns the canned chapter for a theme and 1-based round.
func chapterFor(theme string, round int) chapter {
	line, ok := storylines[strings.ToLower(strings.TrimSpace(theme))]
	if !ok {
		line = storylines[defaultTheme]
	}
	if round < 1 || round > len(line) {
		round = 1
	}
	return line[round-1]
}

// Themes lists the available storylines for the help text.
func Themes() []string {
	return []string{"dungeon", "voyage"}
}
