package publisher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/pkglab/pkglab/internal/dcontext"
)

// defaultConcurrency bounds the number of simultaneous tarball uploads.
const defaultConcurrency = 8

// EntryResult is the outcome of publishing one plan entry.
type EntryResult struct {
	Entry Entry
	Err   error
}

// Result is the outcome of executing a whole Plan.
type Result struct {
	Published        []Entry
	Failed           *EntryResult
	RolledBack       []string
	RollbackFailures []string
}

// Publisher packs and uploads publish plans to one registry.
type Publisher struct {
	Client      *RegistryClient
	Concurrency int
}

// New returns a Publisher targeting the registry at baseURL with the
// default bounded-concurrency upload pool.
func New(baseURL string) *Publisher {
	return &Publisher{Client: NewRegistryClient(baseURL), Concurrency: defaultConcurrency}
}

// Execute packs and uploads every entry in plan with bounded concurrency. On
// the first failure, remaining uploads are cancelled and every
// already-published entry is unpublished, in package-name order; packages that
// fail to unpublish are reported in Result.RollbackFailures but are not
// retried.
func (p *Publisher) Execute(ctx context.Context, plan Plan) Result {
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(concurrency))
	var mu sync.Mutex
	var wg sync.WaitGroup

	published := []Entry{}
	var failed *EntryResult

	for _, entry := range plan.Entries {
		entry := entry
		if err := sem.Acquire(runCtx, 1); err != nil {
			// Context already cancelled by an earlier failure; stop
			// launching new uploads.
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			if runCtx.Err() != nil {
				return
			}

			tb, err := Pack(entry)
			if err == nil {
				err = p.Client.PublishTarball(runCtx, entry, tb)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if failed == nil {
					failed = &EntryResult{Entry: entry, Err: err}
					cancel()
				}
				return
			}
			published = append(published, entry)
		}()
	}

	wg.Wait()

	result := Result{Published: published}
	if failed == nil {
		return result
	}
	result.Failed = failed

	sort.Slice(published, func(i, j int) bool { return published[i].Name < published[j].Name })
	var rolledBack, rollbackFailures []string
	for _, entry := range published {
		if err := p.Client.UnpublishVersion(context.Background(), entry.Name, entry.Version); err != nil {
			rollbackFailures = append(rollbackFailures, fmt.Sprintf("%s@%s: %v", entry.Name, entry.Version, err))
			dcontext.GetLoggerWithFields(ctx, map[interface{}]interface{}{
				"package": entry.Name,
				"version": entry.Version,
			}).Errorf("rollback incomplete: %v", err)
			continue
		}
		rolledBack = append(rolledBack, entry.Name)
	}
	result.RolledBack = rolledBack
	result.RollbackFailures = rollbackFailures
	return result
}
