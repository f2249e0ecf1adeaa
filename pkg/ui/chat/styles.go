package chat

import "github.com/charmbracelet/lipgloss"

// Console palette. Numbers are xterm-256 indexes.
const (
	colorInk       = lipgloss.Color("16")
	colorPaper     = lipgloss.Color("255")
	colorSlate     = lipgloss.Color("236")
	colorNight     = lipgloss.Color("234")
	colorMuted     = lipgloss.Color("245")
	colorTeal      = lipgloss.Color("37")
	colorMint      = lipgloss.Color("121")
	colorAmber     = lipgloss.Color("214")
	colorSky       = lipgloss.Color("75")
	colorLavender  = lipgloss.Color("147")
	colorCoral     = lipgloss.Color("209")
	colorAlarm     = lipgloss.Color("196")
	colorAlarmDark = lipgloss.Color("52")
)

// card styles one kind of transcript entry.
type card struct {
	label string
	title lipgloss.Style
	box   lipgloss.Style
}

func newCard(label string, accent lipgloss.Color, fill lipgloss.Color, border lipgloss.Border) card {
	return card{
		label: label,
		title: lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(colorInk).Background(accent),
		box:   lipgloss.NewStyle().Padding(0, 1).Border(border).BorderForeground(accent).Background(fill),
	}
}

type theme struct {
	banner     lipgloss.Style
	meta       lipgloss.Style
	rule       lipgloss.Style
	frame      lipgloss.Style
	bootLine   lipgloss.Style
	bootReady  lipgloss.Style
	idle       lipgloss.Style
	busy       lipgloss.Style
	failed     lipgloss.Style
	hint       lipgloss.Style
	promptName lipgloss.Style
	prompt     lipgloss.Style
	cards      map[string]card
	fallback   card
}

// cardFor returns the style for an entry role. Unknown roles render as errors.
func (t theme) cardFor(role string) card {
	if c, ok := t.cards[role]; ok {
		return c
	}
	return t.fallback
}

func defaultTheme() theme {
	failure := newCard("FAILED", colorCoral, colorAlarmDark, lipgloss.ThickBorder())
	failure.box = failure.box.Foreground(colorCoral)

	errored := newCard("ERROR", colorAlarm, colorAlarmDark, lipgloss.ThickBorder())
	errored.title = errored.title.Foreground(colorPaper)
	errored.box = errored.box.Foreground(colorCoral)

	return theme{
		banner:     lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(colorInk).Background(colorTeal),
		meta:       lipgloss.NewStyle().Foreground(colorLavender),
		rule:       lipgloss.NewStyle().Foreground(colorTeal),
		frame:      lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.NormalBorder()).BorderForeground(colorTeal).Background(colorNight),
		bootLine:   lipgloss.NewStyle().Foreground(colorSky),
		bootReady:  lipgloss.NewStyle().Bold(true).Foreground(colorMint),
		idle:       lipgloss.NewStyle().Foreground(colorMuted),
		busy:       lipgloss.NewStyle().Bold(true).Foreground(colorAmber),
		failed:     lipgloss.NewStyle().Bold(true).Foreground(colorCoral),
		hint:       lipgloss.NewStyle().Faint(true).Foreground(colorMuted),
		promptName: lipgloss.NewStyle().Bold(true).Foreground(colorMint),
		prompt:     lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.RoundedBorder()).BorderForeground(colorSky).Background(colorSlate),
		cards: map[string]card{
			"user":    newCard("TEXT", colorAmber, colorSlate, lipgloss.RoundedBorder()),
			"voice":   newCard("VOICE", colorLavender, colorSlate, lipgloss.RoundedBorder()),
			"result":  newCard("HEARD", colorMint, colorNight, lipgloss.NormalBorder()),
			"failure": failure,
		},
		fallback: errored,
	}
}
