// Package normalize turns free-text keywords into canonical search input:
// a compact normalized string, a bounded token set usable with the store's
// membership predicates, and the canonical alias keys of any recognized
// instrument synonyms. Everything here is pure and deterministic.
package normalize

import (
	"strings"

	"golang.org/x/text/width"
)

// MaxQueryTokens bounds the token set derived from a keyword so that it
// fits the store's oneOf predicate limit.
const MaxQueryTokens = 10

// MaxRecordTokens bounds the precomputed token list built per record at
// ingest time.
const MaxRecordTokens = 80

// Result is the normalized form of one keyword.
type Result struct {
	// Normalized is the keyword lowercased, width-folded and stripped of
	// everything outside latin alphanumerics and Japanese script.
	Normalized string
	// Tokens are membership-query candidates: latin alphanumeric runs of
	// length >= 2, and 2- and 3-length substrings of Japanese runs.
	Tokens []string
	// AliasKeys are canonical instrument codes (e.g. "xrd", "sem") whose
	// synonym sets intersect the keyword.
	AliasKeys []string
}

// IsEmpty reports whether normalization produced nothing usable.
func (r Result) IsEmpty() bool {
	return r.Normalized == "" && len(r.Tokens) == 0 && len(r.AliasKeys) == 0
}

// aliasTable maps canonical instrument codes to their synonym sets.
// Synonyms of normalized length <= 3 only match as whole tokens so that
// short codes do not fire on incidental substrings.
var aliasTable = map[string][]string{
	"xrd": {
		"xrd",
		"x線回折",
		"x線回折装置",
		"x線回折測定",
		"x-ray diffraction",
		"xray diffraction",
		"x-ray diffractometer",
		"xray diffractometer",
	},
	"sem":  {"sem", "走査型電子顕微鏡", "走査電子顕微鏡"},
	"tem":  {"tem", "透過型電子顕微鏡", "透過電子顕微鏡"},
	"xps":  {"xps", "x線光電子分光", "x線光電子分光法"},
	"nmr":  {"nmr", "核磁気共鳴", "核磁気共鳴装置"},
	"ftir": {"ftir", "フーリエ変換赤外分光", "フーリエ変換赤外分光法"},
	"afm":  {"afm", "原子間力顕微鏡"},
	"lcms": {"lcms", "液体クロマトグラフ質量分析", "液クロ質量分析"},
	"gcms": {"gcms", "ガスクロマトグラフ質量分析", "ガスクロ質量分析"},
}

// aliasKeyOrder keeps alias resolution deterministic regardless of map
// iteration order.
var aliasKeyOrder = []string{"xrd", "sem", "tem", "xps", "nmr", "ftir", "afm", "lcms", "gcms"}

// Keyword normalizes a raw search keyword.
func Keyword(raw string) Result {
	folded := fold(raw)

	res := Result{
		Normalized: compact(folded),
	}

	runs := segment(folded)
	res.Tokens = queryTokens(runs, MaxQueryTokens)
	res.AliasKeys = resolveAliases(res.Normalized, runTokenSet(runs))
	return res
}

// SearchTokens builds the precomputed token list stored per record. It
// keeps the full segment runs in addition to the short substrings so that
// both whole-word and infix queries can hit.
func SearchTokens(values ...string) []string {
	tokens := make([]string, 0, 32)
	seen := make(map[string]bool, 64)
	add := func(tok string) {
		if tok == "" || seen[tok] {
			return
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}

	for _, value := range values {
		for _, run := range segment(fold(value)) {
			add(run.text)
			if run.script {
				emitSubstrings(run.text, add)
			}
		}
		if len(tokens) > MaxRecordTokens {
			break
		}
	}
	return tokens
}

// SearchAliases builds the precomputed alias-key list stored per record.
func SearchAliases(values ...string) []string {
	base := compact(fold(strings.Join(values, " ")))
	if base == "" {
		return nil
	}

	tokens := make(map[string]bool)
	for _, value := range values {
		for _, run := range segment(fold(value)) {
			tokens[run.text] = true
		}
	}
	return resolveAliases(base, tokens)
}

// resolveAliases returns the alias keys whose synonym sets intersect the
// normalized text (long synonyms, substring match) or the token set
// (short synonyms, exact match only).
func resolveAliases(normalized string, tokens map[string]bool) []string {
	if normalized == "" {
		return nil
	}

	var keys []string
	for _, key := range aliasKeyOrder {
		for _, term := range append([]string{key}, aliasTable[key]...) {
			candidate := compact(fold(term))
			if candidate == "" || runeLen(candidate) <= 1 {
				continue
			}
			if runeLen(candidate) <= 3 {
				if !tokens[candidate] {
					continue
				}
			} else if !strings.Contains(normalized, candidate) {
				continue
			}
			keys = append(keys, key)
			break
		}
	}
	return keys
}

// run is one maximal same-script segment of the folded input.
type run struct {
	text   string
	script bool // Japanese script as opposed to latin alphanumeric
}

// segment splits folded text into latin-alnum runs and Japanese-script
// runs, dropping everything else.
func segment(folded string) []run {
	var (
		runs    []run
		current strings.Builder
		inner   bool // current run is Japanese script
	)
	flush := func() {
		if current.Len() > 0 {
			runs = append(runs, run{text: current.String(), script: inner})
			current.Reset()
		}
	}

	for _, r := range folded {
		switch {
		case isLatinAlnum(r):
			if inner {
				flush()
			}
			inner = false
			current.WriteRune(r)
		case isJapaneseScript(r):
			if !inner {
				flush()
			}
			inner = true
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return runs
}

// queryTokens derives the bounded membership-query token set: latin runs
// of length >= 2 as-is, Japanese runs as their 2- and 3-length substrings.
func queryTokens(runs []run, limit int) []string {
	var tokens []string
	seen := make(map[string]bool)
	add := func(tok string) bool {
		if tok == "" || seen[tok] || len(tokens) >= limit {
			return len(tokens) < limit
		}
		seen[tok] = true
		tokens = append(tokens, tok)
		return len(tokens) < limit
	}

	for _, r := range runs {
		if !r.script {
			if runeLen(r.text) >= 2 && !add(r.text) {
				return tokens
			}
			continue
		}
		done := false
		emitSubstrings(r.text, func(tok string) {
			if !done && !add(tok) {
				done = true
			}
		})
		if done {
			return tokens
		}
	}
	return tokens
}

// emitSubstrings calls add with every contiguous substring of length 2
// and 3 of a Japanese run.
func emitSubstrings(text string, add func(string)) {
	runes := []rune(text)
	for _, size := range []int{2, 3} {
		for i := 0; i+size <= len(runes); i++ {
			add(string(runes[i : i+size]))
		}
	}
}

// runTokenSet collects the full run texts for short-synonym matching.
func runTokenSet(runs []run) map[string]bool {
	set := make(map[string]bool, len(runs))
	for _, r := range runs {
		set[r.text] = true
	}
	return set
}

// fold lowercases and width-folds (full-width latin to ASCII, half-width
// kana to full-width).
func fold(s string) string {
	return strings.ToLower(width.Fold.String(s))
}

// compact strips every rune outside the latin alphanumeric and Japanese
// script ranges.
func compact(folded string) string {
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if isLatinAlnum(r) || isJapaneseScript(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isLatinAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// isJapaneseScript matches hiragana, katakana, the common CJK ideograph
// block, the iteration mark and the prolonged sound mark — the same range
// the ingest pipeline tokenizes.
func isJapaneseScript(r rune) bool {
	return (r >= 'ぁ' && r <= 'ん') ||
		(r >= 'ァ' && r <= 'ン') ||
		(r >= '一' && r <= '龥') ||
		r == '々' || r == 'ー'
}

func runeLen(s string) int {
	return len([]rune(s))
}
