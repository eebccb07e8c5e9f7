package badger

import (
	"encoding/binary"

	"github.com/poiesic/docsim/core"
)

// Key prefixes for different data types.
// Primary keys end in a big-endian id so prefix iteration yields id order.
const (
	sourcePrefix          = "src:"
	chunkPrefix           = "chk:"
	termPrefix            = "trm:"
	searchPrefix          = "srh:"
	searchInputPrefix     = "srhi:"
	comparisonPrefix      = "cmp:"
	comparisonTargetIndex = "cmpt:"
	statsPrefix           = "est:"
	vectorPrefix          = "vec:"
	vectorDimPrefix       = "vdim:"

	sourceIDSeq     = "srcseq"
	chunkIDSeq      = "chkseq"
	searchIDSeq     = "srhseq"
	comparisonIDSeq = "cmpseq"
	statsIDSeq      = "estseq"
)

// keySeparator terminates variable-length key segments.
const keySeparator = 0x00

// idKey appends a big-endian id to prefix.
func idKey(prefix []byte, id core.ID) []byte {
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// idFromKey reads the big-endian id that immediately follows prefix.
func idFromKey(key, prefix []byte) core.ID {
	if len(key) < len(prefix)+8 {
		return 0
	}
	return core.ID(binary.BigEndian.Uint64(key[len(prefix):]))
}

// lastID reads the big-endian id at the end of a composite key.
func lastID(key []byte) core.ID {
	if len(key) < 8 {
		return 0
	}
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}

func makeSourceKey(id core.ID) []byte {
	return idKey([]byte(sourcePrefix), id)
}

func makeChunkKey(id core.ID) []byte {
	return idKey([]byte(chunkPrefix), id)
}

// makeTermPrefix generates the index prefix for one term.
// Format: prefix:term\x00
func makeTermPrefix(term string) []byte {
	buf := make([]byte, 0, len(termPrefix)+len(term)+1)
	buf = append(buf, termPrefix...)
	buf = append(buf, term...)
	return append(buf, keySeparator)
}

// makeTermKey generates a composite key for the word index.
// Format: prefix:term\x00chunkID
func makeTermKey(term string, chunkID core.ID) []byte {
	return idKey(makeTermPrefix(term), chunkID)
}

func makeSearchKey(id core.ID) []byte {
	return idKey([]byte(searchPrefix), id)
}

// makeSearchInputPrefix generates the index prefix for a search input fingerprint.
// Format: prefix:fingerprint
func makeSearchInputPrefix(input string) []byte {
	return idKey([]byte(searchInputPrefix), core.IDFromContent(input))
}

// makeSearchInputKey generates a composite key for the search input index.
// Format: prefix:fingerprint:searchID
func makeSearchInputKey(input string, id core.ID) []byte {
	return idKey(makeSearchInputPrefix(input), id)
}

func makeComparisonKey(id core.ID) []byte {
	return idKey([]byte(comparisonPrefix), id)
}

// makeComparisonTargetPrefix generates the index prefix for a target chunk.
// Format: prefix:targetID
func makeComparisonTargetPrefix(target core.ID) []byte {
	return idKey([]byte(comparisonTargetIndex), target)
}

// makeComparisonTargetKey generates a composite key for the target index.
// Format: prefix:targetID:comparisonID
func makeComparisonTargetKey(target, id core.ID) []byte {
	return idKey(makeComparisonTargetPrefix(target), id)
}

func makeStatsKey(id core.ID) []byte {
	return idKey([]byte(statsPrefix), id)
}

// makeVectorPrefix generates the key prefix for a vector namespace.
// Format: prefix:namespace\x00
func makeVectorPrefix(namespace string) []byte {
	buf := make([]byte, 0, len(vectorPrefix)+len(namespace)+1)
	buf = append(buf, vectorPrefix...)
	buf = append(buf, namespace...)
	return append(buf, keySeparator)
}

// makeVectorKey generates a key for one vector.
// Format: prefix:namespace\x00ownerID
func makeVectorKey(namespace string, id core.ID) []byte {
	return idKey(makeVectorPrefix(namespace), id)
}

// makeVectorDimKey generates the key recording a namespace's dimension.
func makeVectorDimKey(namespace string) []byte {
	return []byte(vectorDimPrefix + namespace)
}
