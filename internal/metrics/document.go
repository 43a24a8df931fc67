// Package metrics builds canonical metric documents. Each document merges
// provider-supplied numbers with values computed from raw per-game rows;
// the merged map is always reproducible from the two stored sources.
package metrics

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Entity types a document can describe.
const (
	EntityPlayer = "player"
	EntityTeam   = "team"
)

// ScopeSeason is the whole-season scope. Week and game scopes are built
// with WeekScope and GameScope.
const ScopeSeason = "season"

// ErrInvalidKey marks a document key that cannot be parsed.
var ErrInvalidKey = errors.New("metrics: invalid document key")

// WeekScope returns the scope of a single week.
func WeekScope(week int) string { return "week_" + strconv.Itoa(week) }

// GameScope returns the scope of a single game.
func GameScope(gameID int64) string { return "game_" + strconv.FormatInt(gameID, 10) }

// DocKey identifies one document.
type DocKey struct {
	EntityType string `json:"entity_type" db:"entity_type" validate:"required,oneof=player team"`
	EntityID   int64  `json:"entity_id" db:"entity_id" validate:"required,gt=0"`
	Season     int    `json:"season" db:"season" validate:"required,gt=0"`
	Scope      string `json:"scope" db:"scope"`
}

// String renders the key as "entityType:entityID:season:scope".
func (k DocKey) String() string {
	return fmt.Sprintf("%s:%d:%d:%s", k.EntityType, k.EntityID, k.Season, k.scope())
}

func (k DocKey) scope() string {
	if k.Scope == "" {
		return ScopeSeason
	}
	return k.Scope
}

// ParseDocKey parses the String form of a key.
func ParseDocKey(s string) (DocKey, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 {
		return DocKey{}, errors.Wrapf(ErrInvalidKey, "%q", s)
	}
	if parts[0] != EntityPlayer && parts[0] != EntityTeam {
		return DocKey{}, errors.Wrapf(ErrInvalidKey, "%q: entity type", s)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return DocKey{}, errors.Wrapf(ErrInvalidKey, "%q: entity id", s)
	}
	season, err := strconv.Atoi(parts[2])
	if err != nil {
		return DocKey{}, errors.Wrapf(ErrInvalidKey, "%q: season", s)
	}
	return DocKey{EntityType: parts[0], EntityID: id, Season: season, Scope: parts[3]}, nil
}

// ScopeWeek returns the week of a week_<n> scope.
func ScopeWeek(scope string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(scope, "week_"))
	return n, strings.HasPrefix(scope, "week_") && err == nil
}

// ScopeGame returns the game id of a game_<id> scope.
func ScopeGame(scope string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimPrefix(scope, "game_"), 10, 64)
	return n, strings.HasPrefix(scope, "game_") && err == nil
}

// Computed is the locally computed source of a document.
type Computed struct {
	Totals    map[string]float64 `json:"totals"`
	Averages  map[string]float64 `json:"averages"`
	Specific  map[string]float64 `json:"specific"`
	GameCount int                `json:"game_count"`
}

// Flat returns the computed metrics considered by the merge: totals under
// their own names and averages as "<name>_per_game".
func (c Computed) Flat() map[string]float64 {
	out := make(map[string]float64, len(c.Totals)+len(c.Averages))
	for k, v := range c.Totals {
		out[k] = v
	}
	for k, v := range c.Averages {
		out[k+"_per_game"] = v
	}
	return out
}

// Sources holds both producers of a document.
type Sources struct {
	Provider map[string]float64 `json:"provider"`
	Computed Computed           `json:"computed"`
}

// Empty reports whether neither producer contributed anything.
func (s Sources) Empty() bool {
	return len(s.Provider) == 0 && s.Computed.GameCount == 0
}

// Document is a canonical metric document.
type Document struct {
	DocKey
	Sources   Sources            `json:"sources"`
	Metrics   map[string]float64 `json:"metrics"`
	GameCount int                `json:"game_count"`
	UpdatedAt int64              `json:"updated_at"`
}

// Key returns the document's string key.
func (d Document) Key() string { return d.DocKey.String() }
