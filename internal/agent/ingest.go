package agent

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"dealerrag/internal/ingest"
	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

// Namespaces isolate tenants inside the indexes, so their charset is
// restricted to names both stores accept verbatim.
var namespaceRe = regexp.MustCompile(`^[a-z0-9-]+$`)

// normalizeNamespace maps empty to "default" and rejects anything
// outside the lowercase/digit/hyphen charset.
func normalizeNamespace(ns string) (string, error) {
	if ns == "" {
		return "default", nil
	}
	if !namespaceRe.MatchString(ns) {
		return "", &types.ValidationError{Field: "namespace",
			Message: "must contain only lowercase letters, digits and hyphens"}
	}
	return ns, nil
}

// Ingest routes an ingestion request to the pipeline by source type.
func (e *Engine) Ingest(ctx context.Context, req types.IngestRequest) (*types.IngestResponse, error) {
	namespace, err := normalizeNamespace(req.Namespace)
	if err != nil {
		return nil, err
	}

	var docs []types.Document
	var loadErrs []string

	switch req.SourceType {
	case "text":
		if req.Content == "" {
			return nil, &types.ValidationError{Field: "content", Message: "required for source_type text"}
		}
		docs = append(docs, ingest.FromText(req.Content, req.Metadata))

	case "file":
		if req.SourceIdentifier == "" {
			return nil, &types.ValidationError{Field: "source_identifier", Message: "required for source_type file"}
		}
		info, err := os.Stat(req.SourceIdentifier)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", types.ErrNotFound, req.SourceIdentifier)
		}
		if info.IsDir() {
			docs, loadErrs = ingest.LoadDirectory(req.SourceIdentifier)
		} else {
			doc, err := ingest.LoadFile(req.SourceIdentifier)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}

	case "dms":
		if e.dmsAdapter == nil {
			return nil, fmt.Errorf("%w: no DMS adapter configured", types.ErrUnavailable)
		}
		// The inventory sync runs detached from the request; Wait
		// drains it on shutdown
		bgCtx := context.WithoutCancel(ctx)
		e.bg.Add(1)
		go func() {
			defer e.bg.Done()
			start := time.Now()
			docs, err := e.loadDMSInventory(bgCtx)
			if err != nil {
				logging.IngestWarn("dms sync failed: %v", err)
				return
			}
			res := e.pipeline.Run(bgCtx, docs, namespace)
			logging.Ingest("dms sync complete: %d docs, %d chunks, %d errors",
				res.DocumentsProcessed, res.ChunksCreated, len(res.Errors))
			logging.Audit().IngestComplete(namespace, res.DocumentsProcessed,
				res.ChunksCreated, res.VectorsUpserted, len(res.Errors),
				time.Since(start).Milliseconds())
		}()
		return &types.IngestResponse{Status: "accepted"}, nil

	case "url":
		return nil, fmt.Errorf("%w: url ingestion", types.ErrNotImplemented)

	default:
		return nil, &types.ValidationError{Field: "source_type",
			Message: fmt.Sprintf("unknown source type %q", req.SourceType)}
	}

	if len(req.Metadata) > 0 {
		for i := range docs {
			for k, v := range req.Metadata {
				if _, exists := docs[i].Metadata[k]; !exists {
					docs[i].Metadata[k] = v
				}
			}
		}
	}

	res := e.pipeline.Run(ctx, docs, namespace)
	res.Errors = append(loadErrs, res.Errors...)

	status := "success"
	if len(res.Errors) > 0 {
		status = "partial"
		if res.ChunksCreated == 0 {
			status = "failed"
		}
	}

	return &types.IngestResponse{
		Status:             status,
		DocumentsProcessed: res.DocumentsProcessed,
		ChunksCreated:      res.ChunksCreated,
		VectorsUpserted:    res.VectorsUpserted,
		ProcessingTimeMS:   float64(res.ProcessingTime.Microseconds()) / 1000,
		Errors:             res.Errors,
	}, nil
}

// loadDMSInventory pages the full inventory out of the DMS and renders
// each vehicle as a searchable document.
func (e *Engine) loadDMSInventory(ctx context.Context) ([]types.Document, error) {
	if e.dmsAdapter == nil {
		return nil, fmt.Errorf("%w: no DMS adapter configured", types.ErrUnavailable)
	}

	var docs []types.Document
	for page := 1; ; page++ {
		vehicles, err := e.dmsAdapter.GetInventory(ctx, nil, page, e.opts.SyncPageSize)
		if err != nil {
			return nil, fmt.Errorf("dms inventory page %d: %w", page, err)
		}
		if len(vehicles) == 0 {
			break
		}
		for _, v := range vehicles {
			docs = append(docs, ingest.FromVehicle(v))
		}
		if len(vehicles) < e.opts.SyncPageSize {
			break
		}
	}
	logging.Ingest("loaded %d vehicles from %s", len(docs), e.dmsAdapter.Name())
	return docs, nil
}

// DeleteNamespace removes a namespace from both indexes. The first
// failure is returned but both deletions are attempted.
func (e *Engine) DeleteNamespace(ctx context.Context, namespace string) error {
	namespace, err := normalizeNamespace(namespace)
	if err != nil {
		return err
	}
	var firstErr error
	if e.vectorIndex != nil {
		if err := e.vectorIndex.DeleteNamespace(ctx, namespace); err != nil {
			firstErr = fmt.Errorf("vector index: %w", err)
		}
	}
	if e.lexicalIndex != nil {
		if err := e.lexicalIndex.DeleteNamespace(ctx, namespace); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("lexical index: %w", err)
		}
	}
	return firstErr
}
