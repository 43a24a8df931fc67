package provider

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrMissingKey marks an item whose natural key cannot be derived. Such
// items are skipped individually.
var ErrMissingKey = errors.New("item has no natural key")

// Keys are the identifiers and index columns derived from one item.
type Keys struct {
	NaturalKey string
	Season     *int
	Week       *int
	Postseason bool
	GameID     *int64
	TeamID     *int64
	PlayerID   *int64
}

// Describe derives the natural key and index columns of item for e.
func Describe(e EntityType, item map[string]any) (Keys, error) {
	return DescribeIn(e, item, Filters{})
}

// DescribeIn is Describe for an item fetched with f. Per-game feeds are
// requested one game at a time, so an item that omits its game reference
// belongs to f.GameID.
func DescribeIn(e EntityType, item map[string]any, f Filters) (Keys, error) {
	var k Keys

	game := nested(item, "game")
	k.Season = firstInt(item["season"], game["season"])
	k.Week = firstInt(item["week"], game["week"])
	k.Postseason = truthy(item["postseason"]) || truthy(game["postseason"])
	k.GameID = refID(item, "game")
	if k.GameID == nil && e.PerGame() && f.GameID != 0 {
		gameID := f.GameID
		k.GameID = &gameID
	}
	k.TeamID = refID(item, "team")
	k.PlayerID = refID(item, "player")

	id := intValue(item["id"])

	switch e {
	case Team:
		k.TeamID = id
		k.NaturalKey = join(id)
	case Player:
		k.PlayerID = id
		k.NaturalKey = join(id)
	case Game:
		k.GameID = id
		k.NaturalKey = join(id)
	case SeasonStat:
		k.NaturalKey = join(k.PlayerID, k.Season, postFlag(k.Postseason))
	case TeamSeasonStat:
		k.NaturalKey = join(k.TeamID, k.Season, postFlag(k.Postseason))
	case TeamGameStat:
		k.NaturalKey = join(k.TeamID, k.GameID)
	case PlayerGameStat:
		k.NaturalKey = join(k.PlayerID, k.GameID)
	case AdvancedRushing, AdvancedPassing, AdvancedReceiving:
		week := 0
		if k.Week != nil {
			week = *k.Week
		}
		k.NaturalKey = join(k.PlayerID, k.Season, &week, postFlag(k.Postseason))
	case Play:
		seq := id
		if seq == nil {
			seq = firstInt64(item["sequence"], item["order"])
		}
		k.NaturalKey = join(k.GameID, seq)
	case Odds:
		if id != nil {
			k.NaturalKey = join(id)
		} else if vendor := stringValue(item["vendor"]); vendor != "" {
			k.NaturalKey = joinParts(join(k.GameID), vendor)
		}
	case PlayerProp:
		if id != nil {
			k.NaturalKey = join(id)
		} else if vendor, prop := stringValue(item["vendor"]), stringValue(item["prop_type"]); vendor != "" && prop != "" {
			k.NaturalKey = joinParts(join(k.GameID, k.PlayerID), vendor, prop)
		}
	case Injury:
		k.NaturalKey = join(k.PlayerID)
	default:
		return Keys{}, fmt.Errorf("describe %q: unknown entity type", e)
	}

	if k.NaturalKey == "" {
		return Keys{}, ErrMissingKey
	}
	return k, nil
}

// --------------------------------------------------------------------------
// Value helpers
// --------------------------------------------------------------------------

// join renders *int / *int64 parts as "a:b:c". Any nil part yields "".
func join(parts ...any) string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		switch p := part.(type) {
		case *int:
			if p == nil {
				return ""
			}
			out = append(out, strconv.Itoa(*p))
		case *int64:
			if p == nil {
				return ""
			}
			out = append(out, strconv.FormatInt(*p, 10))
		default:
			return ""
		}
	}
	return strings.Join(out, ":")
}

func joinParts(parts ...string) string {
	for _, p := range parts {
		if p == "" {
			return ""
		}
	}
	return strings.Join(parts, ":")
}

func postFlag(post bool) *int {
	v := 0
	if post {
		v = 1
	}
	return &v
}

func nested(item map[string]any, name string) map[string]any {
	if m, ok := item[name].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// refID reads "<name>.id" from a nested object, falling back to "<name>_id".
func refID(item map[string]any, name string) *int64 {
	if id := intValue(nested(item, name)["id"]); id != nil {
		return id
	}
	return intValue(item[name+"_id"])
}

func intValue(v any) *int64 {
	f, ok := ExtractValue(v)
	if !ok || f != float64(int64(f)) {
		return nil
	}
	n := int64(f)
	return &n
}

func firstInt64(vals ...any) *int64 {
	for _, v := range vals {
		if n := intValue(v); n != nil {
			return n
		}
	}
	return nil
}

func firstInt(vals ...any) *int {
	n := firstInt64(vals...)
	if n == nil {
		return nil
	}
	i := int(*n)
	return &i
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	default:
		return false
	}
}
