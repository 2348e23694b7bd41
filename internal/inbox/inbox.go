// Package inbox lists purchase-order files waiting to be parsed and feeds
// them through the pipeline with bounded concurrency.
package inbox

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/order-parser/internal/model"
)

// Source is a place documents are picked up from.
type Source interface {
	// List returns the names of the parseable files, sorted.
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, name string) ([]byte, error)
	Close() error
}

// Runner parses one document.
type Runner interface {
	Run(ctx context.Context, in model.ParseInput) (*model.Output, error)
}

// InputType maps a file name to a parse input type. Only .pdf and .txt
// files are accepted.
func InputType(name string) (model.InputType, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return model.InputPDF, true
	case ".txt":
		return model.InputText, true
	}
	return "", false
}

// DirSource reads files from a local directory, without recursion.
type DirSource struct {
	dir string
}

// NewDirSource checks that dir exists.
func NewDirSource(dir string) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "inbox: stat %s", dir)
	}
	if !info.IsDir() {
		return nil, eris.Errorf("inbox: %s is not a directory", dir)
	}
	return &DirSource{dir: dir}, nil
}

// List implements Source.
func (d *DirSource) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, eris.Wrapf(err, "inbox: read dir %s", d.dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := InputType(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Fetch implements Source.
func (d *DirSource) Fetch(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.dir, filepath.Base(name)))
	if err != nil {
		return nil, eris.Wrapf(err, "inbox: read %s", name)
	}
	return data, nil
}

// Close implements Source.
func (d *DirSource) Close() error { return nil }

// Options tune a batch run.
type Options struct {
	Concurrency   int
	Limit         int
	ModelOverride string
	TriggeredBy   string
}

// Result is the outcome for one file.
type Result struct {
	Name       string   `json:"name"`
	DocumentID string   `json:"document_id,omitempty"`
	ModelID    string   `json:"model_id,omitempty"`
	Status     string   `json:"status"`
	Warnings   []string `json:"warnings,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Summary counts a batch run. Results follow the listing order.
type Summary struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

// Process runs every listed file through r. A file that cannot be fetched
// or parsed is counted as failed and the batch carries on; only listing
// errors and cancellation abort the run.
func Process(ctx context.Context, src Source, r Runner, opts Options) (*Summary, error) {
	names, err := src.List(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(names) > opts.Limit {
		names = names[:opts.Limit]
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	sum := &Summary{Total: len(names), Results: make([]Result, len(names))}
	if len(names) == 0 {
		zap.L().Info("inbox: nothing to process")
		return sum, nil
	}

	zap.L().Info("inbox: processing batch",
		zap.Int("files", len(names)),
		zap.Int("concurrency", opts.Concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	var succeeded, failed atomic.Int64
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := processOne(gctx, src, r, name, opts)
			if res.Error != "" {
				failed.Add(1)
			} else {
				succeeded.Add(1)
			}
			sum.Results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "inbox: batch processing")
	}
	sum.Succeeded = int(succeeded.Load())
	sum.Failed = int(failed.Load())

	zap.L().Info("inbox: batch complete",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

func processOne(ctx context.Context, src Source, r Runner, name string, opts Options) Result {
	log := zap.L().With(zap.String("file", name))
	res := Result{Name: name, DocumentID: uuid.NewString(), Status: model.LogStatusFailed}

	inputType, _ := InputType(name)
	data, err := src.Fetch(ctx, name)
	if err != nil {
		log.Error("inbox: fetch failed", zap.Error(err))
		res.Error = err.Error()
		return res
	}

	out, err := r.Run(ctx, model.ParseInput{
		InputType:     inputType,
		Raw:           data,
		SourceName:    name,
		DocumentID:    res.DocumentID,
		ModelOverride: opts.ModelOverride,
		TriggeredBy:   opts.TriggeredBy,
	})
	if err != nil {
		log.Error("inbox: parse failed", zap.Error(err))
		res.Error = err.Error()
		return res
	}

	res.ModelID = out.ModelID
	res.Warnings = out.Warnings
	res.Status = model.LogStatusPartial
	if s := out.Status(); s != "" {
		res.Status = string(s)
	}
	log.Info("inbox: parsed",
		zap.String("model", res.ModelID),
		zap.String("status", res.Status),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res
}
