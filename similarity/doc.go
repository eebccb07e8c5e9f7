// Package similarity ranks stored vectors against a query vector.
//
// Scores are raw dot products, which equal cosine similarity when both vectors
// are unit length. Normalizing is the caller's job: embedders normalize on the
// way in, and Normalize is provided for everything else.
//
// Rank always scans every candidate before truncating to topK, sorts by score
// descending, and breaks exact ties by ascending id so results are
// deterministic.
package similarity
