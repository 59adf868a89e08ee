package protocol

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/pkg/crawler"
)

// Task is one step of a task list. A non fatal task that fails is logged
// and the list goes on.
type Task struct {
	Name     string
	Run      func(tc *TaskContext) error
	NonFatal bool
}

func task(name string, run func(tc *TaskContext) error) Task {
	return Task{Name: name, Run: run}
}

func nonFatalTask(name string, run func(tc *TaskContext) error) Task {
	return Task{Name: name, Run: run, NonFatal: true}
}

// TaskError is returned by the runner when a task of the list fails.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// TaskContext is what the tasks of a list share: the trade being negotiated,
// the collaborators and what triggered the list.
type TaskContext struct {
	Ctx      context.Context
	Trade    *domain.Trade
	Provider *Provider

	// Message is the inbound message that triggered the list, if any.
	Message domain.TradeMessage
	// TxEvent is the chain observation that triggered the list, if any.
	TxEvent *crawler.TransactionEvent
	// WithdrawAddress is where the payout funds go on withdraw. Empty means
	// the funds are kept in the wallet.
	WithdrawAddress string

	protocol      *TradeProtocol
	current       string
	compensations []compensation
}

type compensation struct {
	task string
	fn   func(ctx context.Context) error
}

// Model ...
func (tc *TaskContext) Model() *domain.ProcessModel {
	return &tc.Trade.ProcessModel
}

// Peer ...
func (tc *TaskContext) Peer() *domain.TradePeer {
	return &tc.Trade.ProcessModel.TradePeer
}

// OnFailure registers a function undoing the effects of the running task.
// Registered functions run in reverse order if a later task of the same list
// fails.
func (tc *TaskContext) OnFailure(fn func(ctx context.Context) error) {
	tc.compensations = append(tc.compensations, compensation{tc.current, fn})
}

func (tc *TaskContext) compensate() {
	for i := len(tc.compensations) - 1; i >= 0; i-- {
		c := tc.compensations[i]
		if err := c.fn(tc.Ctx); err != nil {
			log.WithError(err).Warnf(
				"failed to undo task %s for trade %s", c.task, tc.Trade.Id,
			)
		}
	}
	tc.compensations = nil
}

// TaskRunner runs a task list in order and stops at the first failing task.
type TaskRunner struct {
	tasks []Task
}

func NewTaskRunner(tasks ...Task) *TaskRunner {
	return &TaskRunner{tasks}
}

// Run executes the tasks. On failure the compensations registered so far
// are run and a *TaskError is returned. A panicking task counts as failed.
func (r *TaskRunner) Run(tc *TaskContext) error {
	tc.compensations = nil

	for _, t := range r.tasks {
		log.Debugf("running task %s for trade %s", t.Name, tc.Trade.Id)

		tc.current = t.Name
		if err := runTask(t, tc); err != nil {
			if t.NonFatal {
				log.WithError(err).Warnf(
					"task %s for trade %s failed, going on", t.Name, tc.Trade.Id,
				)
				continue
			}
			tc.compensate()
			return &TaskError{Task: t.Name, Err: err}
		}
	}

	tc.compensations = nil
	return nil
}

// Names returns the names of the tasks in order.
func (r *TaskRunner) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for _, t := range r.tasks {
		names = append(names, t.Name)
	}
	return names
}

func runTask(t Task, tc *TaskContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return t.Run(tc)
}
