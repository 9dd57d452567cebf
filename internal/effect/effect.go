package effect

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/avvvet/duel-services/internal/random"
)

// Card effects are authored as free text in the catalog ("Coin flip: +15 or
// -10"). The resolver classifies a description against an ordered template
// list and computes the outcome from an injected random source, so both
// peers of a match reach the same result for the same card play.

// Kind identifies the recognized effect template.
type Kind string

const (
	KindCoinFlip         Kind = "coin_flip"
	KindCoinDoubleOrZero Kind = "coin_double_or_zero"
	KindCoinOrCancel     Kind = "coin_or_cancel"
	KindCoinSteal        Kind = "coin_steal"
	KindCoinTeam         Kind = "coin_team"
	KindDicePositive     Kind = "dice_positive"
	KindDiceSpread       Kind = "dice_spread"
	KindDiceMultiply     Kind = "dice_multiply"
	KindDiceOrCancel     Kind = "dice_or_cancel"
	KindLuckySeven       Kind = "lucky_seven"
	KindSnakeEyes        Kind = "snake_eyes"
	KindBoxcars          Kind = "boxcars"
	KindAllIn            Kind = "all_in"
	KindDiceDifference   Kind = "dice_difference"
	KindRangedGain       Kind = "ranged_gain"
)

// Out-of-band point changes. The rules engine interprets these; the resolver
// only guarantees it emits them consistently.
const (
	CancelCard     = -999 // cancel this card
	CancelAllOwn   = -998 // cancel all of the caster's cards
	CancelOpposing = 100  // cancel the opposing card
)

const (
	FaceHeads = "heads"
	FaceTails = "tails"
)

// teamSlots approximates a team-wide buff/debuff on the fixed 6-slot board.
const teamSlots = 6

// Source supplies the draw for each independent roll of one resolution.
// Index 0 is the first roll, index 1 the second die of a pair, and so on.
type Source interface {
	Float(index int) float64
}

type seededSource struct {
	matchID  string
	position int
	round    int
}

// NewSource builds the production source: draws come from the shared seed
// stream for (matchID, position, round), one stream per roll index.
func NewSource(matchID string, position, round int) Source {
	return seededSource{matchID: matchID, position: position, round: round}
}

func (s seededSource) Float(index int) float64 {
	return random.NextFloat(random.EffectSeed(s.matchID, s.position, s.round, index))
}

// Outcome is the resolved result of a chance-based card effect.
type Outcome struct {
	Kind        Kind   `json:"kind"`
	CoinFace    string `json:"coin_face,omitempty"`
	Dice        []int  `json:"dice,omitempty"`
	PointChange int    `json:"point_change"`
	IsPositive  bool   `json:"is_positive"`
	CardTitle   string `json:"card_title"`
	Description string `json:"description"`
}

// template pairs a predicate over the normalized description with the payout
// computation. Ordering matters: the first matching template wins, and the
// resolver relies on earlier templates shadowing later ones.
type template struct {
	kind    Kind
	match   func(desc string) bool
	resolve func(desc string, basePoints int, src Source) (*Outcome, bool)
}

var (
	reCoinBasic  = regexp.MustCompile(`\+(\d+)\s*or\s*-(\d+)`)
	reCoinCancel = regexp.MustCompile(`\+(\d+)\s*or\s*cancel`)
	reSteal      = regexp.MustCompile(`steal\s*(\d+)`)
	reGive       = regexp.MustCompile(`give\s*(\d+)`)
	reTeamGain   = regexp.MustCompile(`\+(\d+)\s*to all`)
	reTeamLoss   = regexp.MustCompile(`-(\d+)\s*to all`)
	reOneCancel  = regexp.MustCompile(`1\s*=\s*cancel`)
	reDoubleOnes = regexp.MustCompile(`double 1`)
	reDoubleSix  = regexp.MustCompile(`double 6`)
	reRanged     = regexp.MustCompile(`randomly gain \+?(\d+) to \+?(\d+)`)
)

var templates = []template{
	{
		kind:    KindCoinFlip,
		match:   func(d string) bool { return strings.Contains(d, "coin flip") && reCoinBasic.MatchString(d) },
		resolve: resolveCoinBasic,
	},
	{
		kind: KindCoinDoubleOrZero,
		match: func(d string) bool {
			return strings.Contains(d, "coin flip") && strings.Contains(d, "double") && strings.Contains(d, "zero")
		},
		resolve: resolveCoinDoubleOrZero,
	},
	{
		kind:    KindCoinOrCancel,
		match:   func(d string) bool { return strings.Contains(d, "coin flip") && reCoinCancel.MatchString(d) },
		resolve: resolveCoinOrCancel,
	},
	{
		kind:    KindCoinSteal,
		match:   func(d string) bool { return strings.Contains(d, "coin flip") && strings.Contains(d, "steal") },
		resolve: resolveCoinSteal,
	},
	{
		kind: KindCoinTeam,
		match: func(d string) bool {
			return strings.Contains(d, "coin flip") && reTeamGain.MatchString(d) && reTeamLoss.MatchString(d)
		},
		resolve: resolveCoinTeam,
	},
	{
		kind: KindDicePositive,
		match: func(d string) bool {
			return strings.Contains(d, "dice roll") && strings.Contains(d, "+1 to +6")
		},
		resolve: resolveDicePositive,
	},
	{
		kind: KindDiceSpread,
		match: func(d string) bool {
			return strings.Contains(d, "dice roll") && strings.Contains(d, "-3 to +6")
		},
		resolve: resolveDiceSpread,
	},
	{
		kind: KindDiceMultiply,
		match: func(d string) bool {
			return strings.Contains(d, "dice roll") && strings.Contains(d, "multipl")
		},
		resolve: resolveDiceMultiply,
	},
	{
		kind: KindDiceOrCancel,
		match: func(d string) bool {
			return strings.Contains(d, "dice roll") && reOneCancel.MatchString(d)
		},
		resolve: resolveDiceOrCancel,
	},
	{
		kind: KindLuckySeven,
		match: func(d string) bool {
			return strings.Contains(d, "lucky 7") ||
				(strings.Contains(d, "2 dice") && strings.Contains(d, "7"))
		},
		resolve: resolveLuckySeven,
	},
	{
		kind: KindSnakeEyes,
		match: func(d string) bool {
			return strings.Contains(d, "snake eyes") ||
				(reDoubleOnes.MatchString(d) && strings.Contains(d, "cancel"))
		},
		resolve: resolveSnakeEyes,
	},
	{
		kind: KindBoxcars,
		match: func(d string) bool {
			return strings.Contains(d, "boxcars") ||
				(reDoubleSix.MatchString(d) && strings.Contains(d, "+20"))
		},
		resolve: resolveBoxcars,
	},
	{
		kind: KindAllIn,
		match: func(d string) bool {
			return strings.Contains(d, "all-in") ||
				(strings.Contains(d, "x3") && strings.Contains(d, "cancel all"))
		},
		resolve: resolveAllIn,
	},
	{
		kind: KindDiceDifference,
		match: func(d string) bool {
			return strings.Contains(d, "2 dice") && strings.Contains(d, "difference")
		},
		resolve: resolveDiceDifference,
	},
	{
		kind:    KindRangedGain,
		match:   func(d string) bool { return reRanged.MatchString(d) },
		resolve: resolveRanged,
	},
}

// Resolve maps a card's effect description to its random outcome. A nil
// result means the description matches no known template: the card has no
// random component and no point change. Malformed numbers inside a matching
// description skip that template rather than failing the resolution.
func Resolve(description, cardTitle string, basePoints int, src Source) *Outcome {
	norm := normalize(description)

	for _, tpl := range templates {
		if !tpl.match(norm) {
			continue
		}
		out, ok := tpl.resolve(norm, basePoints, src)
		if !ok {
			continue
		}
		out.Kind = tpl.kind
		out.CardTitle = cardTitle
		out.Description = description
		out.IsPositive = out.PointChange > 0
		return out
	}

	return nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func flip(src Source, index int) string {
	if src.Float(index) < 0.5 {
		return FaceHeads
	}
	return FaceTails
}

func roll(src Source, index int) int {
	return int(src.Float(index)*6) + 1
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func resolveCoinBasic(desc string, _ int, src Source) (*Outcome, bool) {
	m := reCoinBasic.FindStringSubmatch(desc)
	win, ok := atoi(m[1])
	if !ok {
		return nil, false
	}
	loss, ok := atoi(m[2])
	if !ok {
		return nil, false
	}

	face := flip(src, 0)
	change := win
	if face == FaceTails {
		change = -loss
	}
	return &Outcome{CoinFace: face, PointChange: change}, true
}

func resolveCoinDoubleOrZero(_ string, basePoints int, src Source) (*Outcome, bool) {
	face := flip(src, 0)
	change := basePoints
	if face == FaceTails {
		change = -basePoints
	}
	return &Outcome{CoinFace: face, PointChange: change}, true
}

func resolveCoinOrCancel(desc string, _ int, src Source) (*Outcome, bool) {
	m := reCoinCancel.FindStringSubmatch(desc)
	win, ok := atoi(m[1])
	if !ok {
		return nil, false
	}

	face := flip(src, 0)
	change := win
	if face == FaceTails {
		change = CancelCard
	}
	return &Outcome{CoinFace: face, PointChange: change}, true
}

func resolveCoinSteal(desc string, _ int, src Source) (*Outcome, bool) {
	ms := reSteal.FindStringSubmatch(desc)
	mg := reGive.FindStringSubmatch(desc)
	if ms == nil || mg == nil {
		return nil, false
	}
	steal, ok := atoi(ms[1])
	if !ok {
		return nil, false
	}
	give, ok := atoi(mg[1])
	if !ok {
		return nil, false
	}

	face := flip(src, 0)
	change := steal
	if face == FaceTails {
		change = -give
	}
	return &Outcome{CoinFace: face, PointChange: change}, true
}

func resolveCoinTeam(desc string, _ int, src Source) (*Outcome, bool) {
	mg := reTeamGain.FindStringSubmatch(desc)
	ml := reTeamLoss.FindStringSubmatch(desc)
	gain, ok := atoi(mg[1])
	if !ok {
		return nil, false
	}
	loss, ok := atoi(ml[1])
	if !ok {
		return nil, false
	}

	face := flip(src, 0)
	change := gain * teamSlots
	if face == FaceTails {
		change = -loss * teamSlots
	}
	return &Outcome{CoinFace: face, PointChange: change}, true
}

func resolveDicePositive(_ string, _ int, src Source) (*Outcome, bool) {
	die := roll(src, 0)
	return &Outcome{Dice: []int{die}, PointChange: die}, true
}

// die 1..6 mapped onto the -3..+3 spread with no zero step.
var spreadTable = [6]int{-3, -2, -1, 1, 2, 3}

func resolveDiceSpread(_ string, _ int, src Source) (*Outcome, bool) {
	die := roll(src, 0)
	return &Outcome{Dice: []int{die}, PointChange: spreadTable[die-1]}, true
}

// multiplierTable is indexed by die-1; the values are exact decimals so
// floor(basePoints*mult) carries no platform float behavior.
var multiplierTable = [6]decimal.Decimal{
	decimal.Zero,
	decimal.New(5, -1), // 0.5
	decimal.New(1, 0),
	decimal.New(15, -1), // 1.5
	decimal.New(2, 0),
	decimal.New(3, 0),
}

func resolveDiceMultiply(_ string, basePoints int, src Source) (*Outcome, bool) {
	die := roll(src, 0)
	scaled := decimal.NewFromInt(int64(basePoints)).Mul(multiplierTable[die-1]).Floor()
	change := int(scaled.IntPart()) - basePoints
	return &Outcome{Dice: []int{die}, PointChange: change}, true
}

var cancelTable = [6]int{CancelCard, -5, 0, 3, 6, 10}

func resolveDiceOrCancel(_ string, _ int, src Source) (*Outcome, bool) {
	die := roll(src, 0)
	return &Outcome{Dice: []int{die}, PointChange: cancelTable[die-1]}, true
}

func resolveLuckySeven(_ string, _ int, src Source) (*Outcome, bool) {
	d1, d2 := roll(src, 0), roll(src, 1)
	change := -3
	if d1+d2 == 7 {
		change = 15
	}
	return &Outcome{Dice: []int{d1, d2}, PointChange: change}, true
}

func resolveSnakeEyes(_ string, _ int, src Source) (*Outcome, bool) {
	d1, d2 := roll(src, 0), roll(src, 1)
	change := 0
	if d1 == 1 && d2 == 1 {
		change = CancelOpposing
	}
	return &Outcome{Dice: []int{d1, d2}, PointChange: change}, true
}

func resolveBoxcars(_ string, _ int, src Source) (*Outcome, bool) {
	d1, d2 := roll(src, 0), roll(src, 1)
	change := -(d1 + d2)
	if d1 == 6 && d2 == 6 {
		change = 20
	}
	return &Outcome{Dice: []int{d1, d2}, PointChange: change}, true
}

func resolveAllIn(_ string, basePoints int, src Source) (*Outcome, bool) {
	face := flip(src, 0)
	change := basePoints * 2
	if face == FaceTails {
		change = CancelAllOwn
	}
	return &Outcome{CoinFace: face, PointChange: change}, true
}

func resolveDiceDifference(_ string, _ int, src Source) (*Outcome, bool) {
	d1, d2 := roll(src, 0), roll(src, 1)
	diff := d1 - d2
	if diff < 0 {
		diff = -diff
	}
	return &Outcome{Dice: []int{d1, d2}, PointChange: diff}, true
}

func resolveRanged(desc string, _ int, src Source) (*Outcome, bool) {
	m := reRanged.FindStringSubmatch(desc)
	lo, ok := atoi(m[1])
	if !ok {
		return nil, false
	}
	hi, ok := atoi(m[2])
	if !ok {
		return nil, false
	}
	if hi < lo {
		lo, hi = hi, lo
	}

	change := lo + int(src.Float(0)*float64(hi-lo+1))
	return &Outcome{PointChange: change}, true
}
