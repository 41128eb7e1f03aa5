package repair

import (
	"regexp"
	"strings"
	"unicode"
)

// Pass is a single named text rewrite. Passes run in slice order and each one
// sees the output of the previous one.
type Pass struct {
	Name  string
	Apply func(text string) PassResult
}

// PassResult is the output of one pass.
type PassResult struct {
	Text    string
	Changes int
	Dropped []DroppedLine
}

// DroppedLine is a line removed by the orphan-line pass. Line is 1-based and
// refers to the text as it was handed to that pass.
type DroppedLine struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

const (
	PassQuoteUnitNumbers    = "quote-unit-numbers"
	PassQuoteNumberWords    = "quote-number-words"
	PassDropOrphanLines     = "drop-orphan-lines"
	PassStripTrailingCommas = "strip-trailing-commas"
	PassInsertMissingCommas = "insert-missing-commas"
	PassNullLiterals        = "null-literals"
)

// DefaultPasses returns the repair pipeline in its required order.
//
// The order is part of the contract. Unit values and number words must be
// quoted before orphan lines are dropped, otherwise a value that wrapped onto
// its own line is deleted instead of repaired. Missing commas are inserted
// after trailing commas are stripped so that no comma lands in front of a
// closing bracket.
func DefaultPasses() []Pass {
	return []Pass{
		{Name: PassQuoteUnitNumbers, Apply: QuoteUnitNumbers},
		{Name: PassQuoteNumberWords, Apply: QuoteNumberWords},
		{Name: PassDropOrphanLines, Apply: DropOrphanLines},
		{Name: PassStripTrailingCommas, Apply: StripTrailingCommas},
		{Name: PassInsertMissingCommas, Apply: InsertMissingCommas},
		{Name: PassNullLiterals, Apply: NullLiterals},
	}
}

var (
	reUnitNumber   = regexp.MustCompile(`:\s*(\d+)\s*sqfts?\s*([,\n])`)
	reNumberWord   = regexp.MustCompile(`:\s*(One|Two|Three|Four|Five|Six|Seven|Eight|Nine|Ten)\s*,`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
	reMissingComma = regexp.MustCompile(`"\s*\n\s*"`)
	reNone         = regexp.MustCompile(`:\s*None\s*([,\n}])`)
)

// QuoteUnitNumbers rewrites `: 1200 sqft,` into `: "1200 sqfts",`.
//
// Pre: the value is a bare run of digits followed by the unit and then a
// comma or newline. Post: the value is a quoted string ending in " sqfts";
// the separator is preserved. Text inside string literals is left alone.
func QuoteUnitNumbers(text string) PassResult {
	return replaceOutsideStrings(reUnitNumber, text, `: "${1} sqfts"${2}`)
}

// QuoteNumberWords wraps bare One..Ten values in quotes.
//
// Pre: the word is the whole value, outside any string literal, and is
// directly followed by a comma. Post: `: "Word",`.
func QuoteNumberWords(text string) PassResult {
	return replaceOutsideStrings(reNumberWord, text, `: "${1}",`)
}

// DropOrphanLines removes lines that cannot belong to any key: a line made
// only of digits (commas allowed) with no colon, and any non-empty line that
// has none of { } [ ] : and is not a lone comma.
//
// Post: every removed line is listed in Dropped.
func DropOrphanLines(text string) PassResult {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	var dropped []DroppedLine

	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			kept = append(kept, line)
			continue
		}
		if isNumeral(strings.ReplaceAll(stripped, ",", "")) && !strings.Contains(line, ":") {
			dropped = append(dropped, DroppedLine{Line: i + 1, Text: stripped, Reason: "orphan numeral"})
			continue
		}
		if !strings.ContainsAny(stripped, "{}:[]") && stripped != "," {
			dropped = append(dropped, DroppedLine{Line: i + 1, Text: stripped, Reason: "no structural characters"})
			continue
		}
		kept = append(kept, line)
	}

	return PassResult{
		Text:    strings.Join(kept, "\n"),
		Changes: len(dropped),
		Dropped: dropped,
	}
}

// StripTrailingCommas removes a comma that directly precedes } or ], with any
// whitespace in between. Commas inside string literals are kept.
func StripTrailingCommas(text string) PassResult {
	return replaceOutsideStrings(reTrailing, text, `${1}`)
}

// InsertMissingCommas adds a comma between two quoted tokens that are
// separated only by whitespace containing a newline.
func InsertMissingCommas(text string) PassResult {
	return replaceAll(reMissingComma, text, "\",\n    \"")
}

// NullLiterals rewrites a bare None value into null. A None inside a string
// literal is text and stays.
func NullLiterals(text string) PassResult {
	return replaceOutsideStrings(reNone, text, `: null${1}`)
}

func replaceAll(re *regexp.Regexp, text, repl string) PassResult {
	n := len(re.FindAllStringIndex(text, -1))
	if n == 0 {
		return PassResult{Text: text}
	}
	return PassResult{Text: re.ReplaceAllString(text, repl), Changes: n}
}

// replaceOutsideStrings is replaceAll restricted to matches that start
// outside a JSON string literal. None of the patterns it is used with can
// match a quote, so a match that starts outside a string lies wholly outside.
func replaceOutsideStrings(re *regexp.Regexp, text, repl string) PassResult {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return PassResult{Text: text}
	}

	var (
		b       strings.Builder
		scan    literalScanner
		last    int
		changes int
	)
	b.Grow(len(text))
	for _, m := range matches {
		if scan.insideAt(text, m[0]) {
			continue
		}
		b.WriteString(text[last:m[0]])
		b.Write(re.ExpandString(nil, repl, text, m))
		last = m[1]
		changes++
	}
	if changes == 0 {
		return PassResult{Text: text}
	}
	b.WriteString(text[last:])
	return PassResult{Text: b.String(), Changes: changes}
}

// literalScanner tracks whether a position falls inside a double-quoted
// string. It only moves forward. A raw newline ends any open string; JSON
// strings cannot contain one, so a stray quote affects a single line only.
type literalScanner struct {
	pos     int
	inside  bool
	escaped bool
}

func (s *literalScanner) insideAt(text string, to int) bool {
	for ; s.pos < to; s.pos++ {
		c := text[s.pos]
		switch {
		case c == '\n':
			s.inside, s.escaped = false, false
		case s.escaped:
			s.escaped = false
		case s.inside && c == '\\':
			s.escaped = true
		case c == '"':
			s.inside = !s.inside
		}
	}
	return s.inside
}

func isNumeral(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
