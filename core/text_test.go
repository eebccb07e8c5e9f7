package core

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "empty", text: "", want: []string{}},
		{name: "stop words removed", text: "The cat is on the mat", want: []string{"cat", "mat"}},
		{name: "punctuation trimmed", text: "Hello, world! (again)", want: []string{"hello", "world", "again"}},
		{name: "only stop words", text: "the a an", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestTermFrequencies(t *testing.T) {
	got := TermFrequencies("Go go GO gopher")
	want := map[string]int{"go": 3, "gopher": 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TermFrequencies() = %v, want %v", got, want)
	}
}

func TestUniqueTerms(t *testing.T) {
	got := UniqueTerms("beta alpha beta gamma alpha")
	want := []string{"beta", "alpha", "gamma"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("UniqueTerms() = %v, want %v", got, want)
	}
}
