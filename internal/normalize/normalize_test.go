package normalize

import (
	"testing"
)

func TestKeywordNormalized(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "Latin lowercased", input: "SEM", want: "sem"},
		{name: "Full-width latin folded", input: "ＳＥＭ", want: "sem"},
		{name: "Mixed script compacted", input: "X線回折 装置", want: "x線回折装置"},
		{name: "Punctuation stripped", input: "x-ray diffraction!", want: "xraydiffraction"},
		{name: "Half-width kana widened", input: "ｾﾝﾀｰ", want: "センター"},
		{name: "Empty input", input: "", want: ""},
		{name: "Only symbols", input: "!!??--", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Keyword(tt.input)
			if got.Normalized != tt.want {
				t.Errorf("Keyword(%q).Normalized = %q, want %q", tt.input, got.Normalized, tt.want)
			}
		})
	}
}

func TestKeywordTokenProperties(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"X線回折",
		"走査型電子顕微鏡",
		"SEM 観察",
		"大阪大学 フーリエ変換赤外分光",
		"nmr 核磁気共鳴",
		"液体クロマトグラフ質量分析",
	}

	for _, input := range inputs {
		got := Keyword(input)
		if len(got.Tokens) > MaxQueryTokens {
			t.Errorf("Keyword(%q) produced %d tokens, cap is %d", input, len(got.Tokens), MaxQueryTokens)
		}
		for _, tok := range got.Tokens {
			runes := []rune(tok)
			if len(runes) == 0 {
				t.Errorf("Keyword(%q) produced an empty token", input)
			}
			// Script-derived tokens are always the 2- and 3-length
			// substrings; latin runs pass through whole.
			if isJapaneseScript(runes[0]) && len(runes) != 2 && len(runes) != 3 {
				t.Errorf("Keyword(%q): script token %q has length %d, want 2 or 3", input, tok, len(runes))
			}
		}
	}
}

func TestKeywordAliasKeys(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "XRD from Japanese synonym", input: "X線回折", want: []string{"xrd"}},
		{name: "XRD from full-width", input: "Ｘ線回折装置", want: []string{"xrd"}},
		{name: "SEM exact code", input: "SEM", want: []string{"sem"}},
		{name: "SEM from Japanese synonym", input: "走査型電子顕微鏡", want: []string{"sem"}},
		{name: "Short code requires whole token", input: "base camp", want: nil},
		{name: "Long synonym matches as substring", input: "高性能核磁気共鳴装置の利用", want: []string{"nmr"}},
		{name: "No alias", input: "真空ポンプ", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Keyword(tt.input)
			if len(got.AliasKeys) != len(tt.want) {
				t.Fatalf("Keyword(%q).AliasKeys = %v, want %v", tt.input, got.AliasKeys, tt.want)
			}
			for i, key := range tt.want {
				if got.AliasKeys[i] != key {
					t.Errorf("Keyword(%q).AliasKeys[%d] = %q, want %q", tt.input, i, got.AliasKeys[i], key)
				}
			}
		})
	}
}

func TestKeywordIsEmpty(t *testing.T) {
	t.Parallel()
	if !Keyword("").IsEmpty() {
		t.Error("Keyword(\"\") should be empty")
	}
	if !Keyword(" ・!? ").IsEmpty() {
		t.Error("symbol-only keyword should be empty")
	}
	if Keyword("sem").IsEmpty() {
		t.Error("Keyword(\"sem\") should not be empty")
	}
}

func TestSearchTokens(t *testing.T) {
	t.Parallel()

	tokens := SearchTokens("走査型電子顕微鏡", "SEM")
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if set[tok] {
			t.Errorf("duplicate token %q", tok)
		}
		set[tok] = true
	}

	// Full run survives alongside its substrings so whole-word queries hit.
	for _, want := range []string{"走査型電子顕微鏡", "走査", "顕微鏡", "sem"} {
		if !set[want] {
			t.Errorf("SearchTokens missing %q, got %v", want, tokens)
		}
	}
}

func TestSearchTokensBounded(t *testing.T) {
	t.Parallel()

	long := "透過型電子顕微鏡による微細構造観察および元素分析用走査型電子顕微鏡装置一式"
	tokens := SearchTokens(long, long, long, long, long, "高分解能透過型電子顕微鏡システム周辺機器込み全部入り構成番号一二三四五六七八九十")
	// The cap is a stop condition per value, not an exact cut, so allow
	// the final value's overshoot.
	if len(tokens) > MaxRecordTokens*2 {
		t.Errorf("SearchTokens produced %d tokens, expected bounded near %d", len(tokens), MaxRecordTokens)
	}
}

func TestSearchAliases(t *testing.T) {
	t.Parallel()

	got := SearchAliases("X線回折装置", "走査型電子顕微鏡")
	want := map[string]bool{"xrd": true, "sem": true}
	if len(got) != 2 {
		t.Fatalf("SearchAliases = %v, want xrd and sem", got)
	}
	for _, key := range got {
		if !want[key] {
			t.Errorf("unexpected alias key %q", key)
		}
	}

	if SearchAliases("真空ポンプ") != nil {
		t.Error("SearchAliases should be nil for unrecognized equipment")
	}
}
