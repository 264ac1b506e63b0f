package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sphinxlink/pkg/audio"
	"github.com/MrWong99/sphinxlink/pkg/provider/stt"
)

// FileResult is the outcome of recognising one file.
type FileResult struct {
	Path       string
	Transcript stt.Transcript
	Err        error
}

// RecognizeFiles recognises every file in paths with up to concurrency
// sessions at a time (all at once when concurrency <= 0). raw is the format
// of headerless files. Results are returned in input order; a failing file
// does not stop the others. The returned error is only non-nil when ctx was
// cancelled.
func (r *Recognizer) RecognizeFiles(ctx context.Context, paths []string, grammar string, raw audio.Format, concurrency int) ([]FileResult, error) {
	results := make([]FileResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, path := range paths {
		g.Go(func() error {
			results[i] = r.recognizeFile(gctx, path, grammar, raw)
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

func (r *Recognizer) recognizeFile(ctx context.Context, path, grammar string, raw audio.Format) FileResult {
	res := FileResult{Path: path}
	src, err := OpenAudio(path, r.format, raw)
	if err != nil {
		res.Err = err
		return res
	}
	defer src.Close()

	res.Transcript, res.Err = r.Recognize(ctx, src, grammar)
	if res.Err != nil {
		r.log.Warn("app: recognition failed", "path", path, "err", res.Err)
	}
	return res
}
