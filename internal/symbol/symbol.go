// Package symbol encodes and decodes OSI option symbols.
package symbol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// OptionType identifies the side of an option contract.
type OptionType string

const (
	Call OptionType = "CALL"
	Put  OptionType = "PUT"
)

// MaxStrike is the exclusive upper bound for strike prices. The OSI strike
// field carries five integer digits, so the default admits anything below
// $100,000. Deployments that need a tighter bound can lower it before use.
var MaxStrike = 100000.0

// Contract is a fully decoded option symbol. Raw holds the wire string the
// contract was decoded from, so callers can hand the broker back the exact
// bytes it sent; it is empty on hand-built contracts.
type Contract struct {
	Underlying string
	Expiration time.Time // calendar day, UTC midnight
	Type       OptionType
	Strike     float64
	Raw        string
}

// DecodeError reports which segment of an option symbol failed validation.
type DecodeError struct {
	Symbol  string // input being decoded
	Segment string // "root", "date", "type", or "strike"
	Value   string // offending substring
	Reason  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode option symbol %q: bad %s %q: %s", e.Symbol, e.Segment, e.Value, e.Reason)
}

// tailLen covers the fixed-format suffix: YYMMDD + type char + 8 strike digits.
const tailLen = 15

// Decode parses an OSI option symbol in either layout: the padded form with a
// six-character space-padded root ("SPY   250919C00630000") or the compact
// form without padding ("SPY250919C00630000"). The fixed-format tail is
// located from the right, so the two layouts need no special-casing.
func Decode(s string) (Contract, error) {
	if len(s) < tailLen+1 {
		return Contract{}, &DecodeError{Symbol: s, Segment: "root", Value: s, Reason: "symbol too short for root + date + type + strike"}
	}

	strikeStart := len(s) - 8
	typePos := strikeStart - 1
	dateStart := typePos - 6

	rootRaw := s[:dateStart]
	dateStr := s[dateStart:typePos]
	typeChar := s[typePos]
	strikeStr := s[strikeStart:]

	root := strings.TrimSpace(rootRaw)
	if root == "" || len(root) > 5 || !isUpperAlpha(root) {
		return Contract{}, &DecodeError{Symbol: s, Segment: "root", Value: rootRaw, Reason: "root must be 1-5 uppercase letters"}
	}

	if !isDigits(dateStr) {
		return Contract{}, &DecodeError{Symbol: s, Segment: "date", Value: dateStr, Reason: "expiration must be six digits (YYMMDD)"}
	}
	yy, _ := strconv.Atoi(dateStr[0:2])
	mm, _ := strconv.Atoi(dateStr[2:4])
	dd, _ := strconv.Atoi(dateStr[4:6])
	if mm < 1 || mm > 12 {
		return Contract{}, &DecodeError{Symbol: s, Segment: "date", Value: dateStr, Reason: fmt.Sprintf("month %02d out of range", mm)}
	}
	if dd < 1 || dd > 31 {
		return Contract{}, &DecodeError{Symbol: s, Segment: "date", Value: dateStr, Reason: fmt.Sprintf("day %02d out of range", dd)}
	}

	var optType OptionType
	switch typeChar {
	case 'C':
		optType = Call
	case 'P':
		optType = Put
	default:
		return Contract{}, &DecodeError{Symbol: s, Segment: "type", Value: string(typeChar), Reason: "type must be C or P"}
	}

	if !isDigits(strikeStr) {
		return Contract{}, &DecodeError{Symbol: s, Segment: "strike", Value: strikeStr, Reason: "strike field must be 8 digits"}
	}
	strikeMils, _ := strconv.Atoi(strikeStr)
	strike := float64(strikeMils) / 1000
	if strike <= 0 {
		return Contract{}, &DecodeError{Symbol: s, Segment: "strike", Value: strikeStr, Reason: "strike must be positive"}
	}
	if strike >= MaxStrike {
		return Contract{}, &DecodeError{Symbol: s, Segment: "strike", Value: strikeStr, Reason: fmt.Sprintf("strike %.3f at or above limit %.0f", strike, MaxStrike)}
	}

	return Contract{
		Underlying: root,
		Expiration: time.Date(2000+yy, time.Month(mm), dd, 0, 0, 0, 0, time.UTC),
		Type:       optType,
		Strike:     strike,
		Raw:        s,
	}, nil
}

// Encode renders a contract in the padded OSI layout: the root left-justified
// and space-padded to six characters, YYMMDD, C or P, then the strike in
// thousandths zero-padded to eight digits. Encoding a freshly decoded padded
// symbol reproduces the input byte for byte.
func Encode(c Contract) (string, error) {
	root := strings.TrimSpace(c.Underlying)
	if root == "" || len(root) > 5 || !isUpperAlpha(root) {
		return "", fmt.Errorf("encode option symbol: root %q must be 1-5 uppercase letters", c.Underlying)
	}
	if c.Type != Call && c.Type != Put {
		return "", fmt.Errorf("encode option symbol: unknown option type %q", c.Type)
	}
	if c.Strike <= 0 || c.Strike >= MaxStrike {
		return "", fmt.Errorf("encode option symbol: strike %.3f outside (0, %.0f)", c.Strike, MaxStrike)
	}

	// Round to the nearest 1/1000th dollar for the OCC strike field; the
	// epsilon guards against float drift on values like 123.4565.
	const eps = 1e-9
	strikeMils := int(math.Round(c.Strike*1000 + eps))

	typeChar := byte('C')
	if c.Type == Put {
		typeChar = 'P'
	}
	return fmt.Sprintf("%-6s%s%c%08d", root, c.Expiration.Format("060102"), typeChar, strikeMils), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isUpperAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
