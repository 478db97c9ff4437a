// Package uci parses the output side of the UCI protocol: the "info" and
// "bestmove" lines an engine prints during a search. The broker relays
// output verbatim; parsing is used for session activity tracking, logging,
// and provider-side filtering.
package uci

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownCommand is returned for lines that are neither info nor
// bestmove. Engines print banners and option lists too; callers typically
// skip these.
var ErrUnknownCommand = errors.New("uci: unknown command")

// Eval is a centipawn or mate score.
type Eval struct {
	// Cp is the score in centipawns; meaningful when Mate is nil.
	Cp int
	// Mate, when set, is the signed number of moves to mate.
	Mate *int
}

func (e Eval) String() string {
	if e.Mate != nil {
		return fmt.Sprintf("mate %d", *e.Mate)
	}
	return fmt.Sprintf("cp %d", e.Cp)
}

// Score is an evaluation with its bound flags.
type Score struct {
	Eval       Eval
	Lowerbound bool
	Upperbound bool
}

// Info is a parsed "info" line. Absent fields stay at their zero values;
// Score and Pv are nil when not present.
type Info struct {
	Depth          int
	SelDepth       int
	MultiPv        int
	Nodes          uint64
	Nps            uint64
	TbHits         uint64
	Hashfull       int
	Time           time.Duration
	Score          *Score
	CurrMove       string
	CurrMoveNumber int
	Pv             []string
	String         string
}

// Bestmove is a parsed "bestmove" line; Move is empty for "(none)".
type Bestmove struct {
	Move   string
	Ponder string
}

// Line is one parsed engine output line: exactly one of Info or Bestmove is
// set.
type Line struct {
	Info     *Info
	Bestmove *Bestmove
}

// ParseLine parses one engine output line. Unparseable tails of an info
// line are skipped rather than rejected: engines disagree on extensions and
// the broker must not choke on them.
func ParseLine(line string) (*Line, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, ErrUnknownCommand
	}
	switch fields[0] {
	case "info":
		return &Line{Info: parseInfo(fields[1:])}, nil
	case "bestmove":
		return &Line{Bestmove: parseBestmove(fields[1:])}, nil
	default:
		return nil, ErrUnknownCommand
	}
}

func parseBestmove(fields []string) *Bestmove {
	bm := &Bestmove{}
	if len(fields) > 0 && fields[0] != "(none)" {
		bm.Move = fields[0]
	}
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "ponder" && fields[i+1] != "(none)" {
			bm.Ponder = fields[i+1]
		}
	}
	return bm
}

func parseInfo(fields []string) *Info {
	info := &Info{}
	i := 0
	for i < len(fields) {
		key := fields[i]
		i++
		switch key {
		case "depth":
			info.Depth, i = takeInt(fields, i)
		case "seldepth":
			info.SelDepth, i = takeInt(fields, i)
		case "multipv":
			info.MultiPv, i = takeInt(fields, i)
		case "nodes":
			info.Nodes, i = takeUint(fields, i)
		case "nps":
			info.Nps, i = takeUint(fields, i)
		case "tbhits":
			info.TbHits, i = takeUint(fields, i)
		case "hashfull":
			info.Hashfull, i = takeInt(fields, i)
		case "time":
			var ms int
			ms, i = takeInt(fields, i)
			info.Time = time.Duration(ms) * time.Millisecond
		case "currmove":
			if i < len(fields) {
				info.CurrMove = fields[i]
				i++
			}
		case "currmovenumber":
			info.CurrMoveNumber, i = takeInt(fields, i)
		case "score":
			info.Score, i = takeScore(fields, i)
		case "pv":
			// pv runs to the end of the line.
			info.Pv = append([]string(nil), fields[i:]...)
			i = len(fields)
		case "string":
			info.String = strings.Join(fields[i:], " ")
			i = len(fields)
		default:
			// Unknown token: skip it and keep scanning.
		}
	}
	return info
}

func takeInt(fields []string, i int) (int, int) {
	if i < len(fields) {
		if n, err := strconv.Atoi(fields[i]); err == nil {
			return n, i + 1
		}
	}
	return 0, i
}

func takeUint(fields []string, i int) (uint64, int) {
	if i < len(fields) {
		if n, err := strconv.ParseUint(fields[i], 10, 64); err == nil {
			return n, i + 1
		}
	}
	return 0, i
}

func takeScore(fields []string, i int) (*Score, int) {
	score := &Score{}
	switch {
	case i+1 < len(fields) && fields[i] == "cp":
		n, _ := strconv.Atoi(fields[i+1])
		score.Eval = Eval{Cp: n}
		i += 2
	case i+1 < len(fields) && fields[i] == "mate":
		n, _ := strconv.Atoi(fields[i+1])
		score.Eval = Eval{Mate: &n}
		i += 2
	default:
		return nil, i
	}
	for i < len(fields) {
		switch fields[i] {
		case "lowerbound":
			score.Lowerbound = true
			i++
		case "upperbound":
			score.Upperbound = true
			i++
		default:
			return score, i
		}
	}
	return score, i
}
