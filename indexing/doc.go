// Package indexing keeps the vector index in sync with configured sources.
//
// A Worker polls the job store and claims one source at a time. Deleted
// sources are claimed first and run the deletion cascade; every other
// claimed source runs the processing sequence:
//   - list pending and error documents
//   - for each document: authorize, scrape, chunk, embed, replace its points
//   - run the deletion sequence for documents marked deleted
//   - finalize the source as ready or error
//
// Claims are atomic in the store, so any number of workers, in this process
// or others, may poll the same store. Every write back to a source or
// document is guarded by the version read at claim time; a rejected write
// means the record moved on and is dropped.
//
// Failures are isolated per document and recorded on the document. A quota
// denial stops the whole source.
package indexing
