package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

// words is a curated list of common English words, each at least 6 letters,
// used to generate readable bearer tokens.
var words = []string{
	"abstract", "account", "achieve", "actions", "active", "advice",
	"afford", "almost", "amount", "animal", "answer", "appeal",
	"basket", "battle", "before", "belong", "beyond", "blanket",
	"bottle", "branch", "bridge", "bright", "broken", "budget",
	"butter", "button", "cabinet", "camera", "candle", "canyon",
	"carbon", "castle", "caught", "center", "chance", "change",
	"charge", "choice", "chosen", "circle", "classic", "clever",
	"climate", "closet", "coffee", "column", "combat", "coming",
	"common", "copper", "corner", "cosmos", "cotton", "couple",
	"course", "cousin", "create", "credit", "danger", "defeat",
	"defend", "define", "demand", "desert", "design", "detail",
	"detect", "device", "dinner", "direct", "divine", "dollar",
	"domain", "double", "dragon", "driven", "during", "eating",
	"effect", "effort", "eleven", "empire", "energy", "engine",
	"enough", "entire", "escape", "estate", "evolve", "expand",
	"expect", "export", "extend", "fabric", "factor", "farmer",
	"father", "finger", "flavor", "flight", "flower", "flying",
	"follow", "forest", "format", "fossil", "frozen", "future",
	"galaxy", "garden", "gather", "gentle", "global", "golden",
	"gospel", "govern", "ground", "growth", "guitar", "handle",
	"happen", "harbor", "heaven", "height", "hidden", "honest",
	"hunger", "hunter", "ignore", "impact", "import", "income",
	"indoor", "inform", "injure", "insect", "inside", "insist",
	"invest", "island", "jacket", "jersey", "jungle", "justice",
	"kernel", "kitten", "ladder", "laptop", "launch", "leader",
	"league", "lesson", "letter", "linear", "liquid", "listen",
	"little", "locket", "lumber", "magnet", "manner", "marble",
	"market", "master", "matter", "meadow", "mental", "method",
	"middle", "minute", "mirror", "mobile", "modern", "modest",
	"moment", "monkey", "mother", "motion", "muffin", "museum",
	"mustard", "myself", "narrow", "nation", "nature", "nearby",
	"neatly", "needle", "nephew", "nickel", "nobody",
	"normal", "notice", "number", "object", "obtain", "office",
	"online", "option", "orange", "origin", "output", "oxygen",
	"packet", "palace", "pallet", "pander", "parent", "parrot",
	"patrol", "people", "pepper", "period", "person", "pillow",
	"planet", "plenty", "pocket", "police", "polish", "poster",
	"potato", "powder", "prefer", "prince", "profit", "prompt",
	"public", "purple", "puzzle", "rabbit", "racket", "random",
	"ranger", "reason", "record", "reform", "region", "remote",
	"rental", "repair", "repeat", "rescue", "resort", "result",
	"reveal", "review", "ribbon", "rocket", "rubber", "runner",
	"rustic", "saddle", "safety", "sailor", "salmon", "sample",
	"sandal", "secret", "select", "senior", "series", "settle",
	"shadow", "shaker", "shield", "signal", "silver", "simple",
	"sister", "sketch", "smooth", "socket", "sought",
	"source", "spider", "spirit", "spread", "spring", "square",
	"stable", "statue", "steady", "stolen", "strict", "strike",
	"strong", "studio", "submit", "sudden", "summer", "sunset",
	"supper", "supply", "switch", "symbol", "system", "tablet",
	"talent", "target", "temple", "tender", "thread", "ticket",
	"timber", "tissue", "toilet", "tongue", "toward", "travel",
	"treaty", "triple", "tunnel", "turtle", "twelve", "unique",
	"update", "upload", "valley", "velvet", "vendor", "vessel",
	"victim", "violet", "virtue", "volume", "waffle", "wallet",
	"wander", "wealth", "weapon", "weekly", "weight", "window",
	"winner", "winter", "wisdom", "wonder", "worker", "worthy",
	"yellow", "zenith", "zipper",
}

// GenerateToken creates a human-readable bearer token in the format
// woRd-aNother-keyWord-12345: 3-5 distinct words with 2-7 letters
// capitalized at random, ending with a random 5-digit number. The boot log
// shows the ops token exactly once, so it has to survive being read and
// retyped.
func GenerateToken() (string, error) {
	n, err := randInt(3)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	wordCount := n + 3 // 3, 4, or 5

	chosen := make([][]rune, 0, wordCount)
	used := make(map[int]bool)
	for len(chosen) < wordCount {
		idx, err := randInt(int64(len(words)))
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		if used[idx] {
			continue
		}
		used[idx] = true
		chosen = append(chosen, []rune(words[idx]))
	}

	// Capitalize a handful of letter positions spread across all words,
	// picked by a partial Fisher-Yates over the flattened positions.
	type pos struct{ word, idx int }
	var positions []pos
	for w, runes := range chosen {
		for i := range runes {
			positions = append(positions, pos{w, i})
		}
	}
	n, err = randInt(6)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	capCount := min(n+2, len(positions)) // 2-7
	for i := 0; i < capCount; i++ {
		j, err := randInt(int64(len(positions) - i))
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		positions[i], positions[i+j] = positions[i+j], positions[i]
		p := positions[i]
		chosen[p.word][p.idx] = unicode.ToUpper(chosen[p.word][p.idx])
	}

	parts := make([]string, 0, wordCount+1)
	for _, runes := range chosen {
		parts = append(parts, string(runes))
	}
	num, err := randInt(90000)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	parts = append(parts, fmt.Sprintf("%d", num+10000))

	return strings.Join(parts, "-"), nil
}

// randInt returns a uniform random int in [0, n).
func randInt(n int64) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
