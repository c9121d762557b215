// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package indexing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/vector"
)

// DeleteSource runs the cascade for a deleted source: its points, its
// documents, then the source record. Re-running it after a partial or
// complete cascade is a no-op.
func (p *Pipeline) DeleteSource(ctx context.Context, src *core.Source) error {
	if src == nil {
		return fmt.Errorf("%w: source is nil", core.ErrInvalidSource)
	}
	log := p.logger.With("source", src.ID, "project", src.ProjectID)

	if err := p.vectors.Delete(ctx, vector.SourceFilter(src.ProjectID, src.ID)); err != nil {
		return fmt.Errorf("deleting points of source %s: %w", src.ID, err)
	}
	n, err := p.documents.DeleteSourceDocuments(ctx, src.ID)
	if err != nil {
		return fmt.Errorf("deleting documents of source %s: %w", src.ID, err)
	}
	if err := p.sources.DeleteSource(ctx, src.ID); err != nil {
		return fmt.Errorf("deleting source %s: %w", src.ID, err)
	}

	log.Info("source deleted", "documents", n)
	return nil
}

// DeleteDocument removes one document's points and then its record.
// Deleting an already removed document is a no-op.
func (p *Pipeline) DeleteDocument(ctx context.Context, src *core.Source, doc *core.Document) error {
	if src == nil || doc == nil {
		return fmt.Errorf("%w: source and document are required", core.ErrInvalidDocument)
	}
	if err := p.vectors.Delete(ctx, vector.DocumentFilter(src.ProjectID, src.ID, doc.ID)); err != nil {
		return fmt.Errorf("deleting points of document %s: %w", doc.ID, err)
	}
	if err := p.documents.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("deleting document %s: %w", doc.ID, err)
	}
	return nil
}

// removeDocument deletes a document marked deleted within a live source.
// On failure the error is recorded on the document, which stays deleted so
// the next pass retries the removal.
func (p *Pipeline) removeDocument(ctx context.Context, log *slog.Logger, src *core.Source, doc *core.Document) DocumentOutcome {
	log = log.With("doc", doc.ID, "url", doc.Name)
	outcome := DocumentOutcome{DocID: doc.ID, Name: doc.Name, Action: ActionDeleted}

	err := p.DeleteDocument(ctx, src, doc)
	if err == nil {
		log.Debug("document deleted")
		return outcome
	}

	outcome.Action = ActionFailed
	outcome.Err = err
	if ctx.Err() != nil {
		return outcome
	}
	log.Warn("document deletion failed", "err", err)

	// Status stays deleted so the next pass retries the removal instead of re-indexing.
	failed := doc.Clone()
	failed.Error = err.Error()
	if _, uerr := p.documents.UpdateDocument(ctx, failed); uerr != nil {
		log.Error("failed to record document error", "err", uerr)
	}
	return outcome
}
