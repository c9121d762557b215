package badger

import "fmt"

// Key prefixes for different data types
const (
	sourceRecordPrefix   = "srcrec:"
	documentRecordPrefix = "docrec:"
	documentSourcePrefix = "docsrc:"
)

// makeSourceKey generates a key for a source by ID.
func makeSourceKey(id string) []byte {
	return []byte(sourceRecordPrefix + id)
}

// makeDocumentKey generates a key for a document by ID.
func makeDocumentKey(id string) []byte {
	return []byte(documentRecordPrefix + id)
}

// makeDocumentSourceKey generates a composite key for the source index.
// Format: prefix:sourceID:docID
func makeDocumentSourceKey(sourceID, docID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", documentSourcePrefix, sourceID, docID))
}

// makePartialDocumentSourceKey generates the prefix of every index entry of a source.
func makePartialDocumentSourceKey(sourceID string) []byte {
	return []byte(documentSourcePrefix + sourceID + ":")
}

// docIDFromSourceKey extracts the document ID from a source index key.
func docIDFromSourceKey(key []byte, sourceID string) string {
	return string(key[len(makePartialDocumentSourceKey(sourceID)):])
}
