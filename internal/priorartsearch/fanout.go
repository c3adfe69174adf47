package priorartsearch

import (
	"context"
	"fmt"
	"log"

	"github.com/panjf2000/ants/v2"
)

const fanOutWorkers = 2

type WebSource interface {
	Search(ctx context.Context, query string) ([]Hit, error)
}

type PatentSource interface {
	Search(ctx context.Context, idea string) ([]Hit, PatentSearchInfo, error)
}

type taskPool interface {
	Submit(task func()) error
	Release()
}

type poolFactory func(size int) (taskPool, error)

func newAntsPool(size int) (taskPool, error) {
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type sourceResult struct {
	source string
	hits   []Hit
	info   PatentSearchInfo
	err    error
}

type retrieval struct {
	Web        []Hit
	Patent     []Hit
	PatentInfo PatentSearchInfo
	WebErr     error
	PatentErr  error
}

type fanOut struct {
	web     WebSource
	patent  PatentSource
	newPool poolFactory
}

// retrieve runs the configured sources concurrently and waits for all of
// them. A source failure or panic is recorded on its own result. Tasks run
// detached from ctx cancellation so in-flight calls can still fill the cache;
// the caller is released as soon as ctx is done.
func (f *fanOut) retrieve(ctx context.Context, idea string) (retrieval, error) {
	newPool := f.newPool
	if newPool == nil {
		newPool = newAntsPool
	}
	pool, err := newPool(fanOutWorkers)
	if err != nil {
		return retrieval{}, fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
	}
	defer pool.Release()

	taskCtx := context.WithoutCancel(ctx)
	results := make(chan sourceResult, fanOutWorkers)
	submitted := 0

	if f.web != nil {
		task := isolate(SourceWeb, results, func() sourceResult {
			hits, err := f.web.Search(taskCtx, idea)
			return sourceResult{hits: hits, err: err}
		})
		if err := pool.Submit(task); err != nil {
			return retrieval{}, fmt.Errorf("%w: submit %s: %v", ErrRetrievalFailed, SourceWeb, err)
		}
		submitted++
	}
	if f.patent != nil {
		task := isolate(SourcePatent, results, func() sourceResult {
			hits, info, err := f.patent.Search(taskCtx, idea)
			return sourceResult{hits: hits, info: info, err: err}
		})
		if err := pool.Submit(task); err != nil {
			return retrieval{}, fmt.Errorf("%w: submit %s: %v", ErrRetrievalFailed, SourcePatent, err)
		}
		submitted++
	}

	var out retrieval
	for received := 0; received < submitted; received++ {
		select {
		case <-ctx.Done():
			return retrieval{}, ctx.Err()
		case r := <-results:
			if r.err != nil {
				log.Printf("idea-sonar source_failed source=%q err=%q", r.source, r.err.Error())
			}
			switch r.source {
			case SourceWeb:
				out.Web, out.WebErr = r.hits, r.err
			case SourcePatent:
				out.Patent, out.PatentErr, out.PatentInfo = r.hits, r.err, r.info
			}
		}
	}
	return out, nil
}

func isolate(source string, results chan<- sourceResult, run func() sourceResult) func() {
	return func() {
		res := sourceResult{}
		defer func() {
			if r := recover(); r != nil {
				res = sourceResult{err: fmt.Errorf("%s source panicked: %v", source, r)}
			}
			res.source = source
			if res.err != nil {
				res.hits = nil
			}
			results <- res
		}()
		res = run()
	}
}
