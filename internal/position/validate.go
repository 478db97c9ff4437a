// Package position validates analysis requests against an engine
// registration: board encoding, move legality, and parameter limits.
package position

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/notnil/chess"

	"github.com/AltairaLabs/engine-broker/internal/model"
)

// maxMoves bounds the move list; a longer game than this is not a position
// a client can reach through normal play.
const maxMoves = 600

// ValidationError reports which part of the work was rejected and why.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var (
	uciMoveRe  = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbnk]?$`)
	uciDropRe  = regexp.MustCompile(`^[PNBRQ]@[a-h][1-8]$`)
	fenRankRe  = regexp.MustCompile(`^[pnbrqkPNBRQK1-8~]+$`)
	fenColorRe = regexp.MustCompile(`^[wb]$`)
)

// Validate checks work against the registration. Defaults are expected to
// have been applied already (Work.WithDefaults). Returns a *ValidationError
// describing the first problem found, or nil.
//
// Move-by-move legality is enforced for standard-rules variants; the other
// variants get structural validation of the board encoding and move syntax.
func Validate(work model.Work, engine *model.Engine) error {
	if !engine.SupportsVariant(work.Variant) {
		return invalid("variant", "engine %s does not support %s", engine.ID, work.Variant)
	}
	if work.Threads < 1 || work.Threads > engine.MaxThreads {
		return invalid("threads", "must be between 1 and %d", engine.MaxThreads)
	}
	if work.Hash < 1 || work.Hash > engine.MaxHash {
		return invalid("hash", "must be between 1 and %d MiB", engine.MaxHash)
	}
	if !work.MultiPv.Valid() {
		return invalid("multiPv", "supported range is 1 to 5")
	}
	if !work.Infinite && (work.Depth < 1 || work.Depth > engine.DeepDepth) {
		return invalid("depth", "must be between 1 and %d", engine.DeepDepth)
	}
	if work.Infinite && work.Depth > engine.DeepDepth {
		return invalid("depth", "must be at most %d", engine.DeepDepth)
	}
	if len(work.Moves) > maxMoves {
		return invalid("moves", "at most %d moves", maxMoves)
	}
	if work.InitialFen == "" {
		return invalid("initialFen", "missing")
	}

	if work.Variant.StandardRules() {
		return validateStandard(work)
	}
	return validateStructural(work)
}

// validateStandard replays the move list from the starting position under
// full standard-chess rules.
func validateStandard(work model.Work) error {
	fenOpt, err := chess.FEN(work.InitialFen)
	if err != nil {
		return invalid("initialFen", "%v", err)
	}
	game := chess.NewGame(fenOpt)
	notation := chess.UCINotation{}
	for i, uci := range work.Moves {
		move, err := notation.Decode(game.Position(), uci)
		if err != nil {
			return invalid("moves", "move %d (%s): %v", i, uci, err)
		}
		if err := game.Move(move); err != nil {
			return invalid("moves", "move %d (%s) is not legal", i, uci)
		}
	}
	return nil
}

// validateStructural checks the board encoding and move syntax without
// replaying the game. Variant rules (atomic explosions, crazyhouse drops,
// ...) are left to the engine; everything malformed is still rejected here.
func validateStructural(work model.Work) error {
	if err := checkFenShape(work.InitialFen, work.Variant); err != nil {
		return err
	}
	allowDrops := work.Variant == model.VariantCrazyhouse
	for i, uci := range work.Moves {
		if uciMoveRe.MatchString(uci) {
			continue
		}
		if allowDrops && uciDropRe.MatchString(uci) {
			continue
		}
		return invalid("moves", "move %d (%s) is not a valid UCI move", i, uci)
	}
	return nil
}

func checkFenShape(fen string, variant model.Variant) error {
	fields := strings.Fields(fen)
	if len(fields) < 2 {
		return invalid("initialFen", "expected at least board and side to move")
	}

	board := fields[0]
	// Crazyhouse encodes the pocket either in brackets or as a ninth rank.
	if i := strings.IndexByte(board, '['); i >= 0 {
		if variant != model.VariantCrazyhouse || !strings.HasSuffix(board, "]") {
			return invalid("initialFen", "unexpected pocket in board field")
		}
		board = board[:i]
	}
	ranks := strings.Split(board, "/")
	if variant == model.VariantCrazyhouse && len(ranks) == 9 {
		ranks = ranks[:8]
	}
	if len(ranks) != 8 {
		return invalid("initialFen", "expected 8 ranks, got %d", len(ranks))
	}
	for _, rank := range ranks {
		if !fenRankRe.MatchString(rank) {
			return invalid("initialFen", "bad rank %q", rank)
		}
		width := 0
		for _, c := range rank {
			switch {
			case c >= '1' && c <= '8':
				width += int(c - '0')
			case c == '~':
				// promoted-piece marker, no width
			default:
				width++
			}
		}
		if width != 8 {
			return invalid("initialFen", "rank %q does not span 8 files", rank)
		}
	}
	if !fenColorRe.MatchString(fields[1]) {
		return invalid("initialFen", "side to move must be w or b")
	}
	return nil
}
