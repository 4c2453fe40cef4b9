package fingerprint

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Target is one package to fingerprint: a directory, its parsed
// package.json, and (optionally) the previous result to fast-path against.
type Target struct {
	Name        string
	Dir         string
	PackageJSON map[string]interface{}
	Previous    *Result
}

// Outcome is the fingerprint result for one Target.
type Outcome struct {
	Name     string
	Result   Result
	FastPath bool
	Err      error
}

// HashAll fingerprints every target concurrently. Fingerprinting is pure
// file I/O with no shared state between packages, so no additional
// coordination beyond the group's own goroutine bookkeeping is needed; a
// failure in one target does not cancel the others; each target reports its
// own error independently in its Outcome.
func HashAll(ctx context.Context, targets []Target) []Outcome {
	outcomes := make([]Outcome, len(targets))

	var g errgroup.Group

	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			files, err := SelectFiles(ctx, target.Dir, target.PackageJSON)
			if err != nil {
				outcomes[i] = Outcome{Name: target.Name, Err: err}
				return nil
			}
			result, fast, err := HashWithFastPath(ctx, target.Dir, files, target.Previous)
			outcomes[i] = Outcome{Name: target.Name, Result: result, FastPath: fast, Err: err}
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}
