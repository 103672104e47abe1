package parser

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/inkwelldata/docpipe/internal/identity"
	"github.com/inkwelldata/docpipe/internal/storage"
	"github.com/inkwelldata/docpipe/pkg/textextract"
)

// LocalParser extracts text in-process and reports through the same callback
// path an external service would use. Submit returns immediately; extraction
// runs in a background goroutine to preserve the asynchronous contract.
type LocalParser struct {
	storage  storage.Storage
	callback CallbackFunc
	logger   *slog.Logger
}

func NewLocalParser(st storage.Storage, cb CallbackFunc, logger *slog.Logger) *LocalParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalParser{storage: st, callback: cb, logger: logger}
}

func (p *LocalParser) Submit(ctx context.Context, sub Submission) error {
	go p.run(sub)
	return nil
}

func (p *LocalParser) run(sub Submission) {
	// Detached from the submitter's context; extraction outlives the
	// submitting request by design.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cb := Callback{JobID: sub.JobID, Secret: sub.CallbackSecret}

	text, pages, err := p.extract(ctx, sub)
	if err != nil {
		cb.Status = CallbackFailed
		cb.Error = err.Error()
	} else {
		cb.Status = CallbackSucceeded
		cb.ParsedPath = sub.ParsedPath
		cb.ContentHash = identity.ContentHash([]byte(text))
		cb.PageCount = pages
	}

	if err := p.callback(ctx, cb); err != nil {
		p.logger.Error("local parse callback rejected",
			"job_id", sub.JobID, "status", cb.Status, "error", err)
	}
}

func (p *LocalParser) extract(ctx context.Context, sub Submission) (string, int, error) {
	rc, err := p.storage.Get(ctx, sub.RawPath)
	if err != nil {
		return "", 0, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", 0, err
	}

	res, err := textextract.Extract(bytes.NewReader(raw), int64(len(raw)), sub.MimeType)
	if err != nil {
		return "", 0, err
	}

	if err := p.storage.Put(ctx, sub.ParsedPath, strings.NewReader(res.Content), "text/plain"); err != nil {
		return "", 0, err
	}
	return res.Content, res.Pages, nil
}
