package indexing

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceRepositoryRequired is returned when a source repository is not provided.
	ErrSourceRepositoryRequired = errors.New("source repository required")

	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrFetcherRequired is returned when a content fetcher is not provided.
	ErrFetcherRequired = errors.New("fetcher required")

	// ErrSplitterRequired is returned when a text splitter is not provided.
	ErrSplitterRequired = errors.New("splitter required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrPipelineRequired is returned when a worker is created without a pipeline.
	ErrPipelineRequired = errors.New("pipeline required")

	// ErrEmptyPage indicates the scraper returned nothing usable.
	ErrEmptyPage = errors.New("scraper returned no page")
)

// BillingError stops processing of a whole source. It is recorded in the
// source's BillingError field.
type BillingError struct {
	Reason string
	Err    error
}

func (e *BillingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("billing: %s: %v", e.Reason, e.Err)
	}
	return "billing: " + e.Reason
}

func (e *BillingError) Unwrap() error {
	return e.Err
}

func billingError(reason string, err error) *BillingError {
	return &BillingError{Reason: reason, Err: err}
}
