// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package textsim holds the lexical text utilities shared by recall, title
// derivation, quote validation and the in-process retrieval index:
// tokenisation, English stopwords and TF-IDF cosine similarity.
package textsim

import (
	"math"
	"strings"
	"unicode"
)

// Tokens lower-cases text and splits it into alphanumeric runs.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Words splits text into alphanumeric runs keeping the original case.
func Words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContentWords returns the words of text that are not stopwords, in order
// and with their original case.
func ContentWords(text string) []string {
	words := Words(text)
	out := words[:0]
	for _, w := range words {
		if !IsStopword(w) {
			out = append(out, w)
		}
	}
	return out
}

// IsStopword reports whether w (any case) is an English stopword.
func IsStopword(w string) bool {
	_, ok := stopwords[strings.ToLower(w)]
	return ok
}

// =============================================================================
// TF-IDF
// =============================================================================

// Vector is a sparse L2-normalised term-weight vector.
type Vector map[string]float64

// Cosine returns the cosine similarity of two vectors built by the same
// Corpus. Both are unit length, so this is their dot product.
func Cosine(a, b Vector) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	var dot float64
	for term, w := range a {
		dot += w * b[term]
	}
	return dot
}

// Corpus holds document frequencies for a fixed set of documents.
//
// # Description
//
// Terms are tokens of two or more characters. IDF is smoothed as
// ln((1+n)/(1+df)) + 1 so a term present in every document still has
// positive weight.
//
// # Thread Safety
//
// Immutable after NewCorpus; safe for concurrent reads.
type Corpus struct {
	df   map[string]int
	docs int
}

// NewCorpus computes document frequencies over docs.
func NewCorpus(docs []string) *Corpus {
	c := &Corpus{df: make(map[string]int), docs: len(docs)}
	for _, d := range docs {
		seen := make(map[string]struct{})
		for _, t := range terms(d) {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			c.df[t]++
		}
	}
	return c
}

// IDF returns the smoothed inverse document frequency of term.
func (c *Corpus) IDF(term string) float64 {
	return math.Log(float64(1+c.docs)/float64(1+c.df[term])) + 1
}

// Vector returns the normalised TF-IDF vector of text.
func (c *Corpus) Vector(text string) Vector {
	tf := make(map[string]int)
	for _, t := range terms(text) {
		tf[t]++
	}
	v := make(Vector, len(tf))
	var norm float64
	for t, n := range tf {
		w := float64(n) * c.IDF(t)
		v[t] = w
		norm += w * w
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for t := range v {
		v[t] /= norm
	}
	return v
}

// BestMatch scores query against each candidate, fitting the corpus on the
// query plus the candidates, and returns the index and score of the best.
// It returns -1 when candidates is empty or nothing overlaps.
func BestMatch(query string, candidates []string) (int, float64) {
	if len(candidates) == 0 {
		return -1, 0
	}
	corpus := NewCorpus(append([]string{query}, candidates...))
	qv := corpus.Vector(query)
	best, bestScore := -1, 0.0
	for i, cand := range candidates {
		if s := Cosine(qv, corpus.Vector(cand)); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}

// TokenOverlap returns the fraction of the quote's tokens longer than
// minLen characters that also occur in text. A quote with no such tokens
// scores 0.
func TokenOverlap(quote, text string, minLen int) float64 {
	have := make(map[string]struct{})
	for _, t := range Tokens(text) {
		have[t] = struct{}{}
	}
	total, hit := 0, 0
	for _, t := range Tokens(quote) {
		if len([]rune(t)) <= minLen {
			continue
		}
		total++
		if _, ok := have[t]; ok {
			hit++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hit) / float64(total)
}

func terms(text string) []string {
	toks := Tokens(text)
	out := toks[:0]
	for _, t := range toks {
		if len([]rune(t)) >= 2 {
			out = append(out, t)
		}
	}
	return out
}

// stopwords is the NLTK English list.
var stopwords = func() map[string]struct{} {
	words := strings.Fields(`
i me my myself we our ours ourselves you you're you've you'll you'd your
yours yourself yourselves he him his himself she she's her hers herself it
it's its itself they them their theirs themselves what which who whom this
that that'll these those am is are was were be been being have has had
having do does did doing a an the and but if or because as until while of
at by for with about against between into through during before after
above below to from up down in out on off over under again further then
once here there when where why how all any both each few more most other
some such no nor not only own same so than too very s t can will just don
don't should should've now d ll m o re ve y ain aren aren't couldn
couldn't didn didn't doesn doesn't hadn hadn't hasn hasn't haven haven't
isn isn't ma mightn mightn't mustn mustn't needn needn't shan shan't
shouldn shouldn't wasn wasn't weren weren't won won't wouldn wouldn't`)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
