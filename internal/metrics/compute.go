package metrics

import "math"

// Aggregate sums every numeric field across per-game rows and averages the
// sums over the number of rows. Each row is one game.
func Aggregate(rows []map[string]float64) Computed {
	c := Computed{
		Totals:    map[string]float64{},
		Averages:  map[string]float64{},
		GameCount: len(rows),
	}
	for _, row := range rows {
		for k, v := range row {
			c.Totals[k] += v
		}
	}
	if c.GameCount > 0 {
		for k, v := range c.Totals {
			c.Averages[k] = v / float64(c.GameCount)
		}
	}
	c.Specific = Specific(c.Totals)
	return c
}

// Field names of the per-game stat rows used by the formulas.
const (
	fieldCompletions   = "passing_completions"
	fieldAttempts      = "passing_attempts"
	fieldPassYards     = "passing_yards"
	fieldPassTD        = "passing_touchdowns"
	fieldInterceptions = "passing_interceptions"
	fieldRushAttempts  = "rushing_attempts"
	fieldRushYards     = "rushing_yards"
	fieldReceptions    = "receptions"
	fieldTargets       = "receiving_targets"
	fieldRecYards      = "receiving_yards"
)

// Specific derives the football formulas from aggregated totals. A formula
// whose denominator is absent or zero is omitted.
func Specific(totals map[string]float64) map[string]float64 {
	out := map[string]float64{}

	if att := totals[fieldAttempts]; att > 0 {
		cmp, yds := totals[fieldCompletions], totals[fieldPassYards]
		out["passer_rating"] = PasserRating(att, cmp, yds, totals[fieldPassTD], totals[fieldInterceptions])
		out["completion_pct"] = cmp / att * 100
		out["yards_per_attempt"] = yds / att
	}
	if carries := totals[fieldRushAttempts]; carries > 0 {
		out["yards_per_carry"] = totals[fieldRushYards] / carries
	}
	if targets := totals[fieldTargets]; targets > 0 {
		out["catch_rate"] = totals[fieldReceptions] / targets * 100
	}
	if rec := totals[fieldReceptions]; rec > 0 {
		out["yards_per_reception"] = totals[fieldRecYards] / rec
	}
	return out
}

const passerComponentMax = 2.375

// PasserRating computes the NFL passer rating. Each of the four components
// is clamped to [0, 2.375] before averaging.
func PasserRating(attempts, completions, yards, touchdowns, interceptions float64) float64 {
	if attempts <= 0 {
		return 0
	}
	a := clamp((completions/attempts - 0.3) * 5)
	b := clamp((yards/attempts - 3) * 0.25)
	c := clamp(touchdowns / attempts * 20)
	d := clamp(passerComponentMax - interceptions/attempts*25)
	return (a + b + c + d) / 6 * 100
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(passerComponentMax, v))
}
