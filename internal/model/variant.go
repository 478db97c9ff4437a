package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Variant is a chess variant tag as used in registrations and work requests.
type Variant string

const (
	VariantStandard      Variant = "standard"
	VariantChess960      Variant = "chess960"
	VariantFromPosition  Variant = "fromPosition"
	VariantAntichess     Variant = "antichess"
	VariantAtomic        Variant = "atomic"
	VariantCrazyhouse    Variant = "crazyhouse"
	VariantHorde         Variant = "horde"
	VariantKingOfTheHill Variant = "kingOfTheHill"
	VariantRacingKings   Variant = "racingKings"
	VariantThreeCheck    Variant = "threeCheck"
)

// variantAliases maps the spellings seen on the wire to canonical tags.
var variantAliases = map[string]Variant{
	"chess":            VariantStandard,
	"standard":         VariantStandard,
	"chess960":         VariantChess960,
	"fromposition":     VariantFromPosition,
	"from position":    VariantFromPosition,
	"antichess":        VariantAntichess,
	"atomic":           VariantAtomic,
	"crazyhouse":       VariantCrazyhouse,
	"horde":            VariantHorde,
	"kingofthehill":    VariantKingOfTheHill,
	"king of the hill": VariantKingOfTheHill,
	"racingkings":      VariantRacingKings,
	"racing kings":     VariantRacingKings,
	"threecheck":       VariantThreeCheck,
	"three-check":      VariantThreeCheck,
	"3check":           VariantThreeCheck,
}

// ParseVariant resolves a wire spelling to a canonical variant tag.
func ParseVariant(s string) (Variant, error) {
	if s == "" {
		return VariantStandard, nil
	}
	if v, ok := variantAliases[strings.ToLower(s)]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown variant %q", s)
}

// StandardRules reports whether the variant plays by standard chess rules,
// possibly from an arbitrary starting position.
func (v Variant) StandardRules() bool {
	switch v {
	case VariantStandard, VariantFromPosition:
		return true
	}
	return false
}

// UciOption returns the value for the engine's UCI_Variant option, or the
// empty string for standard play.
func (v Variant) UciOption() string {
	switch v {
	case VariantStandard, VariantChess960, VariantFromPosition:
		return ""
	case VariantKingOfTheHill:
		return "kingofthehill"
	case VariantRacingKings:
		return "racingkings"
	case VariantThreeCheck:
		return "3check"
	default:
		return string(v)
	}
}

// UnmarshalJSON accepts any known alias spelling.
func (v *Variant) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseVariant(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
