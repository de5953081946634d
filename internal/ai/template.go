package ai

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/thinkscotty/daybook/internal/models"
)

// Template is the chain's last link: a pure formatter over the snapshot. It
// does no I/O and has no failure path beyond an already-dead context, so a
// digest always goes out even with every model down.
type Template struct{}

func NewTemplate() *Template { return &Template{} }

func (t *Template) Name() string { return "template" }

func (t *Template) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := req.Snapshot
	var sb strings.Builder

	label := "Morning"
	if snap.Kind == models.KindEvening {
		label = "Evening"
	}
	fmt.Fprintf(&sb, "*%s digest — %s*\n", label, snap.TakenAt.Format("Monday, January 2"))

	for _, sec := range sections {
		var lines []string
		for _, name := range sec.Sources {
			r, ok := snap.Get(name)
			if !ok {
				continue
			}
			lines = append(lines, summarizeSource(r)...)
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n*%s*\n", sec.Title)
		for _, line := range lines {
			sb.WriteString("- ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	return &Response{Text: strings.TrimRight(sb.String(), "\n"), Model: "template"}, nil
}

// summarizeSource reduces one source result to headline bullets. Skipped
// sources vanish; broken ones get a single unavailable line.
func summarizeSource(r models.SourceResult) []string {
	switch r.Status {
	case models.SourceSkipped:
		return nil
	case models.SourceFailed, models.SourceTimedOut:
		return []string{fmt.Sprintf("%s: unavailable", r.Source)}
	}

	p := r.Payload
	var lines []string

	switch r.Source {
	case "calendar":
		lines = append(lines, fmt.Sprintf("%s events today, %s tomorrow", count(p, "today_count"), count(p, "tomorrow_count")))
		for i, ev := range entryList(p, "today") {
			if i >= 3 {
				break
			}
			summary, _ := ev["summary"].(string)
			if start, ok := ev["start"].(string); ok {
				lines = append(lines, fmt.Sprintf("%s %s", start, summary))
			} else {
				lines = append(lines, fmt.Sprintf("all day: %s", summary))
			}
		}
	case "gmail":
		lines = append(lines, fmt.Sprintf("%s unread emails", count(p, "unread_count")))
		if senders, ok := p["top_senders"].([]string); ok && len(senders) > 0 {
			lines = append(lines, fmt.Sprintf("most frequent sender: %s", senders[0]))
		}
	case "slack":
		lines = append(lines, fmt.Sprintf("%s messages, %s mentions across %s channels",
			count(p, "recent_messages"), count(p, "mentions"), count(p, "channels_checked")))
	case "health":
		var parts []string
		if v, ok := p["steps"]; ok {
			parts = append(parts, formatNum(v)+" steps")
		}
		if v, ok := p["sleep_hours"]; ok {
			parts = append(parts, formatNum(v)+"h sleep")
		}
		if v, ok := p["resting_heart_rate"]; ok {
			parts = append(parts, formatNum(v)+" bpm resting")
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, ", "))
		}
	case "nutrition":
		line := count(p, "calories") + " kcal logged"
		if v, ok := p["remaining_calories"]; ok {
			line += fmt.Sprintf(" (%s remaining)", formatNum(v))
		}
		lines = append(lines, line)
	case "news":
		for i, h := range entryList(p, "headlines") {
			if i >= 3 {
				break
			}
			title, _ := h["title"].(string)
			src, _ := h["source"].(string)
			if src != "" {
				lines = append(lines, fmt.Sprintf("%s (%s)", title, src))
			} else {
				lines = append(lines, title)
			}
		}
	case "reddit":
		for i, group := range entryList(p, "subreddits") {
			if i >= 3 {
				break
			}
			links := entryList(group, "links")
			if len(links) == 0 {
				continue
			}
			lines = append(lines, fmt.Sprintf("r/%v: %v", group["subreddit"], links[0]["title"]))
		}
	case "football":
		if res, ok := p["last_result"].(map[string]any); ok {
			line := fmt.Sprintf("last: %v vs %v", res["home"], res["away"])
			if score, ok := res["score"].(string); ok {
				line = fmt.Sprintf("last: %v %s %v", res["home"], score, res["away"])
			}
			if outcome, ok := res["outcome"].(string); ok {
				line += fmt.Sprintf(" (%s)", outcome)
			}
			lines = append(lines, line)
		}
		if fix, ok := p["next_fixture"].(map[string]any); ok {
			line := fmt.Sprintf("next: vs %v", fix["opponent"])
			if date, ok := fix["date"].(string); ok {
				line += " on " + date
			}
			lines = append(lines, line)
		}
		if standing, ok := p["standing"].(map[string]any); ok {
			team, _ := p["team"].(string)
			lines = append(lines, fmt.Sprintf("%s: position %s, %s pts (%v)",
				team, count(standing, "position"), count(standing, "points"), standing["record"]))
		}
	case "clickup":
		lines = append(lines, fmt.Sprintf("%s open tasks, %s overdue, %d due in 48h",
			count(p, "open_tasks"), count(p, "overdue"), len(entryList(p, "due_soon"))))
	case "sysstats":
		var parts []string
		if v, ok := p["uptime_hours"]; ok {
			parts = append(parts, "up "+formatNum(v)+"h")
		}
		if v, ok := p["load_1"]; ok {
			parts = append(parts, "load "+formatNum(v))
		}
		if v, ok := p["memory_used_percent"]; ok {
			parts = append(parts, "memory "+formatNum(v)+"%")
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, ", "))
		}
	case "onthisday":
		for i, ev := range entryList(p, "events") {
			if i >= 1 {
				break
			}
			lines = append(lines, fmt.Sprintf("on this day, %s: %v", formatNum(ev["year"]), ev["text"]))
		}
	}

	if r.Status == models.SourcePartial {
		lines = append(lines, fmt.Sprintf("%s: data incomplete", r.Source))
	}
	return lines
}

// entryList pulls a []map[string]any payload field regardless of whether it
// was built in-process or round-tripped through JSON.
func entryList(p map[string]any, key string) []map[string]any {
	switch v := p[key].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, e := range v {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func count(p map[string]any, key string) string {
	if v, ok := p[key]; ok {
		return formatNum(v)
	}
	return "0"
}

func formatNum(v any) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		if n == math.Trunc(n) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', 1, 64)
	}
	return fmt.Sprintf("%v", v)
}
