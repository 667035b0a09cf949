// Package view derives the rendered job list from cached state.
package view

import (
	"strings"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/jobs"
)

// Mode selects which jobs the board lists.
type Mode string

const (
	ModeHome      Mode = "home"
	ModeFavorites Mode = "favorites"

	excerptLines  = 3
	excerptSuffix = "..."
)

// ParseMode maps user input to a Mode; anything unrecognized is ModeHome.
func ParseMode(value string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeFavorites:
		return ModeFavorites
	default:
		return ModeHome
	}
}

// Input is everything a projection depends on.
type Input struct {
	Jobs      []jobs.Job
	Search    string
	Mode      Mode
	Favorites cache.FavoriteSet
}

// Card is one renderable job.
type Card struct {
	Job      jobs.Job `json:"job"`
	Tags     []string `json:"tags"`
	Favorite bool     `json:"favorite"`
	Excerpt  string   `json:"excerpt"`
}

// Projection is the ordered list of cards to display.
type Projection struct {
	Cards []Card `json:"cards"`
}

// Empty reports the no-results state.
func (p Projection) Empty() bool {
	return len(p.Cards) == 0
}

// IDs lists the job ids in display order.
func (p Projection) IDs() []string {
	ids := make([]string, 0, len(p.Cards))
	for _, card := range p.Cards {
		ids = append(ids, card.Job.ID)
	}
	return ids
}

// Project filters the cached jobs by search text and mode. Input order is preserved.
func Project(input Input) Projection {
	search := strings.ToLower(strings.TrimSpace(input.Search))
	favoritesOnly := ParseMode(string(input.Mode)) == ModeFavorites
	favorites := input.Favorites.Lookup()

	cards := make([]Card, 0, len(input.Jobs))
	for _, job := range input.Jobs {
		if search != "" && !matchesSearch(job, search) {
			continue
		}
		favorite := favorites[job.ID]
		if favoritesOnly && !favorite {
			continue
		}
		cards = append(cards, Card{
			Job:      job,
			Tags:     jobs.Tags(job.Raw),
			Favorite: favorite,
			Excerpt:  Excerpt(job.Raw),
		})
	}
	return Projection{Cards: cards}
}

// Excerpt joins the first three lines of raw with spaces, marking truncation with an ellipsis.
func Excerpt(raw string) string {
	lines := strings.Split(raw, "\n")
	if len(lines) <= excerptLines {
		return strings.Join(lines, " ")
	}
	return strings.Join(lines[:excerptLines], " ") + excerptSuffix
}

func matchesSearch(job jobs.Job, search string) bool {
	return strings.Contains(strings.ToLower(job.Title), search) ||
		strings.Contains(strings.ToLower(job.Raw), search)
}
