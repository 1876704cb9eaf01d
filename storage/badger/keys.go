package badger

import (
	"encoding/binary"

	"github.com/poiesic/curator/core"
)

// Key prefixes for different data types
const (
	assetRecordPrefix = "asset:"
	assetHashPrefix   = "assethash:"
	assetPathPrefix   = "assetpath:"
	assetIDSeq        = "assetseq"
	checkpointPrefix  = "chkpt:"
)

// makeAssetKey generates a key for an asset record by ID.
// The ID is written BigEndian so iteration order is ID order.
func makeAssetKey(id core.ID) []byte {
	buf := make([]byte, len(assetRecordPrefix)+8)
	offset := copy(buf, assetRecordPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeHashKey generates the secondary key mapping a content hash to its owner.
func makeHashKey(hash string) []byte {
	return append([]byte(assetHashPrefix), hash...)
}

// makePathKey generates the secondary key mapping a path to the record located there.
func makePathKey(path string) []byte {
	return append([]byte(assetPathPrefix), path...)
}

// makeCheckpointKey generates a key for a named checkpoint.
func makeCheckpointKey(name string) []byte {
	return append([]byte(checkpointPrefix), name...)
}
