package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/thinkscotty/daybook/internal/config"
)

const mfpDiaryBaseURL = "https://www.myfitnesspal.com/food/diary"

// Nutrition scrapes the day's totals from a public MyFitnessPal food diary.
// There is no API for this; the diary page's totals rows are stable enough
// to read directly.
type Nutrition struct {
	username string
	baseURL  string
	timeout  time.Duration
	disabled bool
}

func NewNutrition(cfg config.NutritionConfig, username string, disabled bool) *Nutrition {
	// Env wins over YAML so the username can be kept out of the config file.
	if username == "" {
		username = cfg.Username
	}
	return &Nutrition{
		username: username,
		baseURL:  mfpDiaryBaseURL,
		timeout:  20 * time.Second,
		disabled: disabled,
	}
}

func (n *Nutrition) Name() string { return "nutrition" }

type diaryRow struct {
	calories, carbs, fat, protein int
	found                         bool
}

func (n *Nutrition) Fetch(ctx context.Context) (map[string]any, error) {
	if n.disabled || n.username == "" {
		return nil, ErrSkipped
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(n.Name(), err)
	}

	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(n.timeout)

	var mu sync.Mutex
	var totals, goal, remaining diaryRow

	// The diary table closes with three "total" rows: Totals, Your Daily
	// Goal, Remaining. Column order is calories, carbs, fat, protein.
	c.OnHTML("tr.total", func(e *colly.HTMLElement) {
		mu.Lock()
		defer mu.Unlock()
		cells := e.ChildTexts("td")
		if len(cells) < 5 {
			return
		}
		row := diaryRow{
			calories: parseDiaryNumber(cells[1]),
			carbs:    parseDiaryNumber(cells[2]),
			fat:      parseDiaryNumber(cells[3]),
			protein:  parseDiaryNumber(cells[4]),
			found:    true,
		}
		label := strings.ToLower(strings.TrimSpace(cells[0]))
		switch {
		case label == "totals":
			totals = row
		case strings.Contains(label, "goal"):
			goal = row
		case strings.Contains(label, "remaining"):
			remaining = row
		}
	})

	var statusCode int
	var visitErr error
	c.OnError(func(r *colly.Response, err error) {
		statusCode = r.StatusCode
		visitErr = err
	})

	diaryURL := n.baseURL + "/" + url.PathEscape(n.username)
	if err := c.Visit(diaryURL); err != nil {
		return nil, wrapErr(n.Name(), err)
	}
	c.Wait()

	if visitErr != nil {
		if statusCode != 0 {
			return nil, newError(n.Name(), statusKind(statusCode), fmt.Errorf("diary fetch returned status %d", statusCode))
		}
		return nil, wrapErr(n.Name(), visitErr)
	}

	if !totals.found {
		return nil, newError(n.Name(), MalformedResponse,
			fmt.Errorf("no totals row for %q; diary is private, empty, or the markup changed", n.username))
	}

	payload := map[string]any{
		"username":  n.username,
		"calories":  totals.calories,
		"carbs_g":   totals.carbs,
		"fat_g":     totals.fat,
		"protein_g": totals.protein,
	}
	if goal.found {
		payload["goal_calories"] = goal.calories
	}
	if remaining.found {
		payload["remaining_calories"] = remaining.calories
	}
	return payload, nil
}

func parseDiaryNumber(s string) int {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	// Cells can carry units or goal suffixes; keep the leading digits.
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}
