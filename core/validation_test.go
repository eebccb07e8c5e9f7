package core

import (
	"errors"
	"math"
	"testing"
)

func TestValidateSource(t *testing.T) {
	tests := []struct {
		name    string
		source  *Source
		wantErr error
	}{
		{
			name:    "valid source",
			source:  &Source{Name: "doc1"},
			wantErr: nil,
		},
		{
			name:    "valid source with ID 0 and no chunks",
			source:  &Source{Id: 0, Name: "doc1", ChunkIds: nil},
			wantErr: nil,
		},
		{
			name:    "nil source",
			source:  nil,
			wantErr: ErrInvalidSource,
		},
		{
			name:    "empty name",
			source:  &Source{Name: ""},
			wantErr: ErrEmptyName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSource(tt.source)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateSource() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSource() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChunk(t *testing.T) {
	tests := []struct {
		name    string
		chunk   *Chunk
		wantErr error
	}{
		{
			name:    "valid chunk",
			chunk:   &Chunk{Text: "hello", Lines: LineRange{From: 1, To: 3}},
			wantErr: nil,
		},
		{
			name:    "single line chunk",
			chunk:   &Chunk{Text: "hello", ChunkIndex: 4, Lines: LineRange{From: 7, To: 7}},
			wantErr: nil,
		},
		{
			name:    "nil chunk",
			chunk:   nil,
			wantErr: ErrInvalidChunk,
		},
		{
			name:    "empty text",
			chunk:   &Chunk{Text: "", Lines: LineRange{From: 1, To: 1}},
			wantErr: ErrEmptyInput,
		},
		{
			name:    "negative index",
			chunk:   &Chunk{Text: "x", ChunkIndex: -1, Lines: LineRange{From: 1, To: 1}},
			wantErr: ErrInvalidChunk,
		},
		{
			name:    "inverted lines",
			chunk:   &Chunk{Text: "x", Lines: LineRange{From: 5, To: 2}},
			wantErr: ErrInvalidLineRange,
		},
		{
			name:    "zero-based lines",
			chunk:   &Chunk{Text: "x", Lines: LineRange{From: 0, To: 2}},
			wantErr: ErrInvalidLineRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunk(tt.chunk)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateChunk() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateChunk() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateVector(t *testing.T) {
	tests := []struct {
		name      string
		vector    []float32
		dimension int
		wantErr   error
	}{
		{name: "matching dimension", vector: []float32{1, 0}, dimension: 2},
		{name: "unchecked dimension", vector: []float32{1, 0, 0}, dimension: 0},
		{name: "too short", vector: []float32{1}, dimension: 2, wantErr: ErrDimensionMismatch},
		{name: "too long", vector: []float32{1, 0, 0}, dimension: 2, wantErr: ErrDimensionMismatch},
		{name: "empty", vector: nil, dimension: 0, wantErr: ErrDimensionMismatch},
		{name: "nan", vector: []float32{float32(math.NaN()), 0}, dimension: 2, wantErr: ErrInvalidVector},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVector(tt.vector, tt.dimension)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateVector() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateVector() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCount(t *testing.T) {
	if err := ValidateCount(1); err != nil {
		t.Errorf("ValidateCount(1) unexpected error = %v", err)
	}
	if err := ValidateCount(0); !errors.Is(err, ErrInvalidCount) {
		t.Errorf("ValidateCount(0) error = %v, want %v", err, ErrInvalidCount)
	}
}
