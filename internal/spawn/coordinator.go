package spawn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jolo-cli/jolo/internal/constants"
)

// ErrPartialFailure is returned when some instances of a batch failed.
var ErrPartialFailure = errors.New("some spawned instances failed")

// Stage names the step an instance is in.
type Stage string

const (
	StagePrepare Stage = "prepare"
	StageLaunch  Stage = "launch"
	StageStart   Stage = "start"
)

// Stages are the per-instance steps. Prepare runs for each instance in
// order; Launch runs concurrently; Start runs for each launched instance
// after every launch has finished. Start may be nil.
type Stages struct {
	Prepare func(ctx context.Context, in Instance) error
	Launch  func(ctx context.Context, in Instance) error
	Start   func(ctx context.Context, in Instance) error

	// Launched, if set, is called once after the last launch returns and
	// before any Start. Spawn releases the allocation lock here.
	Launched func()
}

// Status is the outcome of a stage as reported to an Observer.
type Status int

const (
	Running Status = iota
	Done
	Failed
)

// Event reports progress of one instance.
type Event struct {
	Instance Instance
	Stage    Stage
	Status   Status
	Err      error
}

// Result is the final outcome of one instance. Err is nil on success;
// otherwise Stage is the step that failed.
type Result struct {
	Instance Instance
	Stage    Stage
	Err      error
}

// Coordinator runs the stages of a batch.
type Coordinator struct {
	// MaxParallel bounds concurrent launches. Zero or less means unbounded.
	MaxParallel int

	// Observer, if set, receives every stage transition. It is called from
	// several goroutines.
	Observer func(Event)
}

func (c *Coordinator) notify(in Instance, stage Stage, status Status, err error) {
	if c.Observer != nil {
		c.Observer(Event{Instance: in, Stage: stage, Status: status, Err: err})
	}
}

func (c *Coordinator) step(ctx context.Context, in Instance, stage Stage, fn func(context.Context, Instance) error) error {
	c.notify(in, stage, Running, nil)
	err := fn(ctx, in)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		log.Debug().Err(err).Str("instance", in.Name).Str("stage", string(stage)).Msg("spawn step failed")
		c.notify(in, stage, Failed, err)
		return err
	}
	c.notify(in, stage, Done, nil)
	return nil
}

// Run drives every instance through the stages. All instances are attempted;
// one failure does not affect the others. Results are in instance order.
func (c *Coordinator) Run(ctx context.Context, instances []Instance, stages Stages) []Result {
	results := make([]Result, len(instances))
	for i, in := range instances {
		results[i] = Result{Instance: in}
	}

	// Instances share the project's git metadata, so preparation is sequential.
	for i, in := range instances {
		if err := c.step(ctx, in, StagePrepare, stages.Prepare); err != nil {
			results[i].Stage, results[i].Err = StagePrepare, err
		}
	}

	var g errgroup.Group
	if c.MaxParallel > 0 {
		g.SetLimit(c.MaxParallel)
	}
	for i, in := range instances {
		if results[i].Err != nil {
			continue
		}
		g.Go(func() error {
			if err := c.step(ctx, in, StageLaunch, stages.Launch); err != nil {
				results[i].Stage, results[i].Err = StageLaunch, err
			}
			return nil
		})
	}
	_ = g.Wait()
	if stages.Launched != nil {
		stages.Launched()
	}

	if stages.Start != nil {
		for i, in := range instances {
			if results[i].Err != nil {
				continue
			}
			if err := c.step(ctx, in, StageStart, stages.Start); err != nil {
				results[i].Stage, results[i].Err = StageStart, err
			}
		}
	}
	return results
}

// Succeeded returns the instances that completed every stage.
func Succeeded(results []Result) []Instance {
	var out []Instance
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r.Instance)
		}
	}
	return out
}

// PartialError summarizes the failed instances of a batch.
type PartialError struct {
	Total  int
	Failed []Result
}

func (e *PartialError) Error() string {
	parts := make([]string, len(e.Failed))
	for i, r := range e.Failed {
		parts[i] = fmt.Sprintf("%s (%s: %v)", r.Instance.Name, r.Stage, r.Err)
	}
	return fmt.Sprintf("%d of %d instances failed: %s", len(e.Failed), e.Total, strings.Join(parts, "; "))
}

func (e *PartialError) Is(target error) bool { return target == ErrPartialFailure }

// Summary returns a *PartialError if any instance failed, else nil.
func Summary(results []Result) error {
	var failed []Result
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &PartialError{Total: len(results), Failed: failed}
}

// lockRetry is how often a blocked Lock retries.
const lockRetry = 200 * time.Millisecond

// Lock takes the host-wide spawn lock in dir, waiting until it is free or
// ctx is done. Port allocation happens under this lock so that two
// concurrent spawns never read the same registry snapshot.
func Lock(ctx context.Context, dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	fl := flock.New(filepath.Join(dir, constants.FileSpawnLock))
	locked, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("acquiring spawn lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("acquiring spawn lock: %w", ctx.Err())
	}
	return fl, nil
}
