package core

import "strings"

// Stop words skipped by the full-text index and word search
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true,
}

// maxTermLength bounds index key size; longer words are truncated.
const maxTermLength = 64

// Tokenize splits text into words, lowercases, trims punctuation, and removes stop words.
func Tokenize(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		// Lowercase and trim punctuation
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}<>`*_#"))

		// Skip stop words and empty strings
		if cleaned == "" || stopWords[cleaned] {
			continue
		}
		if len(cleaned) > maxTermLength {
			cleaned = cleaned[:maxTermLength]
		}
		filtered = append(filtered, cleaned)
	}

	return filtered
}

// TermFrequencies counts the occurrences of each indexed term in text.
func TermFrequencies(text string) map[string]int {
	terms := Tokenize(text)
	freq := make(map[string]int, len(terms))
	for _, term := range terms {
		freq[term]++
	}
	return freq
}

// UniqueTerms returns the distinct indexed terms of text in first-seen order.
func UniqueTerms(text string) []string {
	terms := Tokenize(text)
	seen := make(map[string]bool, len(terms))
	unique := make([]string, 0, len(terms))
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true
		unique = append(unique, term)
	}
	return unique
}
