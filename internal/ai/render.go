package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/thinkscotty/daybook/internal/config"
	"github.com/thinkscotty/daybook/internal/models"
)

// section groups sources under one digest heading. The order here is the
// order in both the prompt and the template fallback.
type section struct {
	Title   string
	Sources []string
}

var sections = []section{
	{"Calendar", []string{"calendar"}},
	{"Health", []string{"health", "nutrition"}},
	{"Communications", []string{"gmail", "slack"}},
	{"News & Sports", []string{"news", "reddit", "football", "onthisday"}},
	{"Productivity", []string{"clickup", "sysstats"}},
}

const morningInstructions = `You are Daybook, a personal daily digest writer. Write the MORNING digest: a short, friendly briefing that sets up the day ahead. Lead with today's schedule, then health and inbox, then a compact news and sports roundup, and close with the day's open tasks. Keep it under 400 words, use Slack mrkdwn (*bold* section headers, - bullets), and never invent data that is not in the sections below. If a section notes that its source was unavailable, give it one short clause at most.`

const eveningInstructions = `You are Daybook, a personal daily digest writer. Write the EVENING digest: a short wind-down review of the day. Lead with tomorrow's calendar, then how the day went (health, food, inbox), a compact news and sports roundup, and close with what is still open for tomorrow. Keep it under 400 words, use Slack mrkdwn (*bold* section headers, - bullets), and never invent data that is not in the sections below. If a section notes that its source was unavailable, give it one short clause at most.`

const closingInstructions = `Write the digest now. Output only the digest text, ready to post to Slack.`

// Render builds the generation request for a snapshot. It reads nothing but
// the snapshot and static config (no clock, no I/O), so identical inputs
// render byte-identical prompts.
func Render(snap models.Snapshot, cfg config.GenerationConfig) Request {
	var sb strings.Builder

	switch snap.Kind {
	case models.KindEvening:
		sb.WriteString(eveningInstructions)
	default:
		sb.WriteString(morningInstructions)
	}
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Date: %s\n\n", snap.TakenAt.Format("Monday, January 2, 2006"))

	for _, sec := range sections {
		fmt.Fprintf(&sb, "## %s\n\n", sec.Title)
		for _, name := range sec.Sources {
			r, ok := snap.Get(name)
			if !ok {
				continue
			}
			renderSource(&sb, r, cfg.SourceByteCap)
		}
		sb.WriteString("\n")
	}

	sb.WriteString(closingInstructions)

	return Request{
		Kind:      snap.Kind,
		Prompt:    sb.String(),
		MaxTokens: cfg.MaxTokens,
		Snapshot:  snap,
	}
}

// renderSource writes one source's block. Healthy and partial sources embed
// their payload as indented JSON (Go sorts map keys, keeping the bytes
// stable); everything else collapses to a fixed one-line note.
func renderSource(sb *strings.Builder, r models.SourceResult, byteCap int) {
	switch r.Status {
	case models.SourceOK, models.SourcePartial:
		data, err := json.MarshalIndent(r.Payload, "", "  ")
		if err != nil {
			fmt.Fprintf(sb, "- %s: payload unavailable\n", r.Source)
			return
		}
		if r.Status == models.SourcePartial {
			fmt.Fprintf(sb, "Note: %s returned incomplete data (%s).\n", r.Source, r.Error)
		}
		fmt.Fprintf(sb, "```%s\n%s\n```\n", r.Source, truncateBytes(string(data), byteCap))
	case models.SourceSkipped:
		fmt.Fprintf(sb, "- %s: not configured\n", r.Source)
	case models.SourceTimedOut:
		fmt.Fprintf(sb, "- %s: unavailable (timed out)\n", r.Source)
	default:
		fmt.Fprintf(sb, "- %s: unavailable (failed)\n", r.Source)
	}
}

// truncateBytes caps s at max bytes, backing up to a rune boundary, and
// appends a fixed marker when anything was cut.
func truncateBytes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[truncated]"
}
