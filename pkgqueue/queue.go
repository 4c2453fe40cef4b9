// Package pkgqueue absorbs bursts of publish requests per workspace and
// serializes actual publish execution without losing targets: requests
// union into per-(workspace, tag) lanes, a 150ms debounce timer coalesces
// rapid-fire pings, and a drain loop runs one pub invocation per non-empty
// lane until every lane in the workspace is empty.
package pkgqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pkglab/pkglab/internal/dcontext"
)

const debounceDelay = 150 * time.Millisecond

// Runner executes one pub invocation for a workspace and blocks until it
// completes. Implementations typically shell out via procutil.Run.
type Runner interface {
	RunPublish(ctx context.Context, workspaceRoot string, args []string) error
}

// Request is one publish ping, corresponding to the decoded POST body of
// the internal publish-enqueue endpoint.
type Request struct {
	WorkspaceRoot string
	Tag           string
	Targets       []string
	Root          bool
	Force         bool
	Single        bool
	Shallow       bool
	DryRun        bool
}

// EnqueueResult is returned to the caller immediately; it never waits for
// the drain to finish.
type EnqueueResult struct {
	JobID  string
	Status string // "queued" or "coalesced"
}

// Lane is one tag's accumulated, not-yet-drained publish request.
type Lane struct {
	Pending map[string]bool
	Root    bool
	Force   bool
	Single  bool
	Shallow bool
	DryRun  bool
}

func (l *Lane) isEmpty() bool {
	return len(l.Pending) == 0 && !l.Root
}

type workspaceState struct {
	mu         sync.Mutex
	lanes      map[string]*Lane
	laneOrder  []string
	publishing bool
	debounce   *time.Timer
}

// Queue is the process-wide publish-queue instance. Construct with New.
type Queue struct {
	runner Runner

	mu         sync.Mutex
	workspaces map[string]*workspaceState
}

// New constructs a Queue that drains onto runner.
func New(runner Runner) *Queue {
	return &Queue{
		runner:     runner,
		workspaces: map[string]*workspaceState{},
	}
}

func (q *Queue) workspace(root string) *workspaceState {
	q.mu.Lock()
	defer q.mu.Unlock()
	ws, ok := q.workspaces[root]
	if !ok {
		ws = &workspaceState{lanes: map[string]*Lane{}}
		q.workspaces[root] = ws
	}
	return ws
}

// Enqueue merges req into its (workspaceRoot, tag) lane and (re)arms the
// debounce timer. It never blocks on the drain itself.
func (q *Queue) Enqueue(ctx context.Context, req Request) EnqueueResult {
	ws := q.workspace(req.WorkspaceRoot)

	ws.mu.Lock()
	lane, ok := ws.lanes[req.Tag]
	if !ok {
		lane = &Lane{Pending: map[string]bool{}}
		ws.lanes[req.Tag] = lane
		ws.laneOrder = append(ws.laneOrder, req.Tag)
	}
	for _, t := range req.Targets {
		lane.Pending[t] = true
	}
	lane.Root = lane.Root || req.Root
	lane.Force = lane.Force || req.Force
	lane.Single = lane.Single || req.Single
	lane.Shallow = lane.Shallow || req.Shallow
	lane.DryRun = lane.DryRun || req.DryRun

	status := "queued"
	if ws.publishing {
		status = "coalesced"
	}

	if ws.debounce != nil {
		ws.debounce.Stop()
	}
	workspaceRoot := req.WorkspaceRoot
	// The debounce fires after the triggering HTTP handler has already
	// returned, which cancels req's context under a real *http.Server.
	// Detach so the drain and its pub subprocess outlive the request.
	drainCtx := dcontext.DetachedContext(ctx)
	ws.debounce = time.AfterFunc(debounceDelay, func() {
		q.drain(drainCtx, workspaceRoot, ws)
	})
	ws.mu.Unlock()

	return EnqueueResult{JobID: uuid.NewString(), Status: status}
}

// drain runs one pub invocation per non-empty lane, re-scanning the lane map
// on every iteration so a target enqueued mid-drain is never lost. publishing
// is always reset via defer, so a panicking runner can never wedge the
// workspace.
func (q *Queue) drain(ctx context.Context, workspaceRoot string, ws *workspaceState) {
	ws.mu.Lock()
	if ws.publishing {
		ws.mu.Unlock()
		return
	}
	ws.publishing = true
	ws.mu.Unlock()

	defer func() {
		ws.mu.Lock()
		ws.publishing = false
		ws.mu.Unlock()
	}()

	for {
		tag, lane, ok := q.nextDrainable(ws)
		if !ok {
			return
		}

		args := buildArgs(tag, lane)
		fields := map[interface{}]interface{}{"workspace": workspaceRoot, "tag": tag}
		if err := q.runner.RunPublish(ctx, workspaceRoot, args); err != nil {
			dcontext.GetLoggerWithFields(ctx, fields).WithError(err).Error("pkgqueue: pub invocation failed")
			continue
		}
		dcontext.GetLoggerWithFields(ctx, fields).Info("pkgqueue: pub invocation completed")
	}
}

// nextDrainable snapshots and clears the first non-empty lane in insertion
// order, returning it, or ok=false if every lane is empty.
func (q *Queue) nextDrainable(ws *workspaceState) (string, Lane, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	for _, tag := range ws.laneOrder {
		lane, ok := ws.lanes[tag]
		if !ok || lane.isEmpty() {
			continue
		}
		snapshot := *lane
		snapshot.Pending = make(map[string]bool, len(lane.Pending))
		for t := range lane.Pending {
			snapshot.Pending[t] = true
		}
		ws.lanes[tag] = &Lane{Pending: map[string]bool{}}
		return tag, snapshot, true
	}
	return "", Lane{}, false
}

func buildArgs(tag string, lane Lane) []string {
	var args []string
	if lane.Root {
		args = append(args, "--root")
	} else {
		targets := make([]string, 0, len(lane.Pending))
		for t := range lane.Pending {
			targets = append(targets, t)
		}
		sort.Strings(targets)
		args = append(args, targets...)
	}
	if tag != "" {
		args = append(args, "--tag", tag)
	}
	if lane.Force {
		args = append(args, "--force")
	}
	if lane.Single {
		args = append(args, "--single")
	}
	if lane.Shallow {
		args = append(args, "--shallow")
	}
	if lane.DryRun {
		args = append(args, "--dry-run")
	}
	return args
}

// WorkspaceStatus is one entry of the publish-queue status snapshot.
type WorkspaceStatus struct {
	WorkspaceRoot string      `json:"workspaceRoot"`
	Publishing    bool        `json:"publishing"`
	Lanes         []LaneStatus `json:"lanes"`
}

// LaneStatus summarizes one lane for the status endpoint.
type LaneStatus struct {
	Tag     string   `json:"tag"`
	Pending []string `json:"pending"`
	Root    bool     `json:"root"`
	Force   bool     `json:"force"`
}

// Status returns a snapshot for every workspace currently holding at least
// one non-empty lane.
func (q *Queue) Status() []WorkspaceStatus {
	q.mu.Lock()
	roots := make([]string, 0, len(q.workspaces))
	for root := range q.workspaces {
		roots = append(roots, root)
	}
	q.mu.Unlock()
	sort.Strings(roots)

	var out []WorkspaceStatus
	for _, root := range roots {
		ws := q.workspace(root)
		ws.mu.Lock()
		var lanes []LaneStatus
		for _, tag := range ws.laneOrder {
			lane := ws.lanes[tag]
			if lane == nil || lane.isEmpty() {
				continue
			}
			pending := make([]string, 0, len(lane.Pending))
			for t := range lane.Pending {
				pending = append(pending, t)
			}
			sort.Strings(pending)
			lanes = append(lanes, LaneStatus{Tag: tag, Pending: pending, Root: lane.Root, Force: lane.Force})
		}
		publishing := ws.publishing
		ws.mu.Unlock()

		if len(lanes) == 0 {
			continue
		}
		out = append(out, WorkspaceStatus{WorkspaceRoot: root, Publishing: publishing, Lanes: lanes})
	}
	return out
}
