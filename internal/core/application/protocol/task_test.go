package protocol_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/protocol"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/thanhpk/randstr"
)

func newTaskContext() *protocol.TaskContext {
	return &protocol.TaskContext{
		Ctx:   context.Background(),
		Trade: domain.NewTrade(domain.TradeInfo{Offer: domain.Offer{Id: randstr.Hex(16)}}),
	}
}

func TestTaskRunner(t *testing.T) {
	t.Run("runs_in_order", func(t *testing.T) {
		var calls []string
		record := func(name string) protocol.Task {
			return protocol.Task{Name: name, Run: func(*protocol.TaskContext) error {
				calls = append(calls, name)
				return nil
			}}
		}
		runner := protocol.NewTaskRunner(record("a"), record("b"), record("c"))

		require.NoError(t, runner.Run(newTaskContext()))
		require.Equal(t, []string{"a", "b", "c"}, calls)
		require.Equal(t, []string{"a", "b", "c"}, runner.Names())
	})

	t.Run("stops_at_first_failure", func(t *testing.T) {
		boom := fmt.Errorf("boom")
		var calls []string
		runner := protocol.NewTaskRunner(
			protocol.Task{Name: "a", Run: func(*protocol.TaskContext) error {
				calls = append(calls, "a")
				return nil
			}},
			protocol.Task{Name: "b", Run: func(*protocol.TaskContext) error {
				calls = append(calls, "b")
				return boom
			}},
			protocol.Task{Name: "c", Run: func(*protocol.TaskContext) error {
				calls = append(calls, "c")
				return nil
			}},
		)

		err := runner.Run(newTaskContext())
		require.ErrorIs(t, err, boom)

		var taskErr *protocol.TaskError
		require.ErrorAs(t, err, &taskErr)
		require.Equal(t, "b", taskErr.Task)
		require.Equal(t, []string{"a", "b"}, calls)
	})

	t.Run("non_fatal_failure", func(t *testing.T) {
		var calls []string
		runner := protocol.NewTaskRunner(
			protocol.Task{Name: "a", NonFatal: true, Run: func(*protocol.TaskContext) error {
				calls = append(calls, "a")
				return fmt.Errorf("ignored")
			}},
			protocol.Task{Name: "b", Run: func(*protocol.TaskContext) error {
				calls = append(calls, "b")
				return nil
			}},
		)

		require.NoError(t, runner.Run(newTaskContext()))
		require.Equal(t, []string{"a", "b"}, calls)
	})

	t.Run("panic", func(t *testing.T) {
		runner := protocol.NewTaskRunner(
			protocol.Task{Name: "a", Run: func(*protocol.TaskContext) error {
				var m map[string]int
				m["x"] = 1
				return nil
			}},
		)

		err := runner.Run(newTaskContext())
		require.ErrorIs(t, err, protocol.ErrTaskPanic)
	})

	t.Run("compensations_run_in_reverse_order", func(t *testing.T) {
		var undone []string
		undo := func(name string) protocol.Task {
			return protocol.Task{Name: name, Run: func(tc *protocol.TaskContext) error {
				tc.OnFailure(func(context.Context) error {
					undone = append(undone, name)
					return nil
				})
				return nil
			}}
		}
		runner := protocol.NewTaskRunner(
			undo("a"),
			undo("b"),
			protocol.Task{Name: "c", Run: func(*protocol.TaskContext) error {
				return fmt.Errorf("boom")
			}},
		)

		require.Error(t, runner.Run(newTaskContext()))
		require.Equal(t, []string{"b", "a"}, undone)
	})

	t.Run("no_compensation_on_success", func(t *testing.T) {
		undone := false
		runner := protocol.NewTaskRunner(
			protocol.Task{Name: "a", Run: func(tc *protocol.TaskContext) error {
				tc.OnFailure(func(context.Context) error {
					undone = true
					return nil
				})
				return nil
			}},
		)

		require.NoError(t, runner.Run(newTaskContext()))
		require.False(t, undone)
	})
}
