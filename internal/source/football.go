package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/thinkscotty/daybook/internal/config"
)

const footballBaseURL = "https://api.football-data.org"

// Football follows one club on football-data.org: the last result, the next
// fixture, and the league standing.
type Football struct {
	apiKey      string
	teamID      int
	competition string
	baseURL     string
	client      *http.Client
	disabled    bool
	now         func() time.Time
}

func NewFootball(cfg config.FootballConfig, apiKey string, disabled bool) *Football {
	return &Football{
		apiKey:      apiKey,
		teamID:      cfg.TeamID,
		competition: cfg.Competition,
		baseURL:     footballBaseURL,
		client:      &http.Client{Timeout: 20 * time.Second},
		disabled:    disabled,
		now:         time.Now,
	}
}

func (f *Football) Name() string { return "football" }

type footballMatch struct {
	UTCDate  string `json:"utcDate"`
	HomeTeam struct {
		ID   int    `json:"id"`
		Name string `json:"shortName"`
	} `json:"homeTeam"`
	AwayTeam struct {
		ID   int    `json:"id"`
		Name string `json:"shortName"`
	} `json:"awayTeam"`
	Score struct {
		Winner   string `json:"winner"`
		FullTime struct {
			Home *int `json:"home"`
			Away *int `json:"away"`
		} `json:"fullTime"`
	} `json:"score"`
	Competition struct {
		Name string `json:"name"`
	} `json:"competition"`
}

func (f *Football) Fetch(ctx context.Context) (map[string]any, error) {
	if f.disabled || f.apiKey == "" {
		return nil, ErrSkipped
	}

	now := f.now().UTC()
	payload := map[string]any{}
	var problems []string

	finished, err := f.matches(ctx, url.Values{
		"status":   {"FINISHED"},
		"dateFrom": {now.AddDate(0, 0, -30).Format("2006-01-02")},
		"dateTo":   {now.Format("2006-01-02")},
	})
	if err != nil {
		return nil, err
	}
	if len(finished) > 0 {
		// Matches arrive in date order; the last one is the most recent.
		payload["last_result"] = f.describeResult(finished[len(finished)-1])
	}

	scheduled, err := f.matches(ctx, url.Values{
		"status":   {"SCHEDULED"},
		"dateFrom": {now.Format("2006-01-02")},
		"dateTo":   {now.AddDate(0, 0, 30).Format("2006-01-02")},
	})
	if err != nil {
		problems = append(problems, fmt.Sprintf("fixtures: %v", err))
	} else if len(scheduled) > 0 {
		payload["next_fixture"] = f.describeFixture(scheduled[0], now)
	}

	standing, team, err := f.standing(ctx)
	if err != nil {
		problems = append(problems, fmt.Sprintf("standings: %v", err))
	} else {
		payload["standing"] = standing
		payload["team"] = team
	}

	if len(payload) == 0 {
		return nil, newError(f.Name(), UpstreamUnavailable, fmt.Errorf("no football data available"))
	}
	if len(problems) > 0 {
		return payload, newError(f.Name(), UpstreamUnavailable, fmt.Errorf("%v", problems))
	}
	return payload, nil
}

func (f *Football) matches(ctx context.Context, params url.Values) ([]footballMatch, error) {
	reqURL := fmt.Sprintf("%s/v4/teams/%d/matches?%s", f.baseURL, f.teamID, params.Encode())

	var result struct {
		Matches []footballMatch `json:"matches"`
	}
	if err := f.get(ctx, reqURL, &result); err != nil {
		return nil, err
	}
	return result.Matches, nil
}

func (f *Football) standing(ctx context.Context) (map[string]any, string, error) {
	reqURL := fmt.Sprintf("%s/v4/competitions/%s/standings", f.baseURL, url.PathEscape(f.competition))

	var result struct {
		Standings []struct {
			Type  string `json:"type"`
			Table []struct {
				Position int `json:"position"`
				Team     struct {
					ID   int    `json:"id"`
					Name string `json:"shortName"`
				} `json:"team"`
				PlayedGames int `json:"playedGames"`
				Points      int `json:"points"`
				Won         int `json:"won"`
				Draw        int `json:"draw"`
				Lost        int `json:"lost"`
			} `json:"table"`
		} `json:"standings"`
	}
	if err := f.get(ctx, reqURL, &result); err != nil {
		return nil, "", err
	}

	for _, s := range result.Standings {
		if s.Type != "TOTAL" {
			continue
		}
		for _, row := range s.Table {
			if row.Team.ID == f.teamID {
				return map[string]any{
					"position": row.Position,
					"points":   row.Points,
					"played":   row.PlayedGames,
					"record":   fmt.Sprintf("%dW-%dD-%dL", row.Won, row.Draw, row.Lost),
				}, row.Team.Name, nil
			}
		}
	}
	return nil, "", fmt.Errorf("team %d not in %s standings", f.teamID, f.competition)
}

func (f *Football) get(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Auth-Token", f.apiKey)
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return wrapErr(f.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newError(f.Name(), statusKind(resp.StatusCode), fmt.Errorf("football-data returned status %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(f.Name(), MalformedResponse, fmt.Errorf("decode football-data response: %w", err))
	}
	return nil
}

func (f *Football) describeResult(m footballMatch) map[string]any {
	result := map[string]any{
		"home":        m.HomeTeam.Name,
		"away":        m.AwayTeam.Name,
		"competition": m.Competition.Name,
	}
	if d, err := time.Parse(time.RFC3339, m.UTCDate); err == nil {
		result["date"] = d.Format("2006-01-02")
	}
	if m.Score.FullTime.Home != nil && m.Score.FullTime.Away != nil {
		result["score"] = fmt.Sprintf("%d-%d", *m.Score.FullTime.Home, *m.Score.FullTime.Away)
	}
	switch m.Score.Winner {
	case "DRAW":
		result["outcome"] = "draw"
	case "HOME_TEAM":
		result["outcome"] = pickOutcome(m.HomeTeam.ID == f.teamID)
	case "AWAY_TEAM":
		result["outcome"] = pickOutcome(m.AwayTeam.ID == f.teamID)
	}
	return result
}

func (f *Football) describeFixture(m footballMatch, now time.Time) map[string]any {
	fixture := map[string]any{
		"competition": m.Competition.Name,
		"home":        m.HomeTeam.ID == f.teamID,
	}
	if m.HomeTeam.ID == f.teamID {
		fixture["opponent"] = m.AwayTeam.Name
	} else {
		fixture["opponent"] = m.HomeTeam.Name
	}
	if d, err := time.Parse(time.RFC3339, m.UTCDate); err == nil {
		fixture["date"] = d.Format("2006-01-02 15:04 MST")
		fixture["days_until"] = int(d.Sub(now).Hours() / 24)
	}
	return fixture
}

func pickOutcome(won bool) string {
	if won {
		return "won"
	}
	return "lost"
}
