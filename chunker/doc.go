// Package chunker splits source documents into bounded-size chunks that carry
// the line range they were cut from.
//
// Paragraphs (runs of non-blank lines) are kept together when they fit, then
// single lines, and only a line longer than the limit is cut inside itself,
// preferring word boundaries. Line ranges are 1-based and inclusive, start at
// line 1 and end at the last line of the document.
package chunker
