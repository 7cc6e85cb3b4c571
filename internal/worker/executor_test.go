package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExecutor(t *testing.T) {
	executor := NewExecutor(nil)
	assert.NotNil(t, executor)
	assert.NotNil(t, executor.handlers)

	handlers := map[string]Handler{
		"test": func(ctx context.Context, req ReceivedTask) (string, error) { return "", nil },
	}
	executor = NewExecutor(handlers)
	assert.Len(t, executor.handlers, 1)
}

func TestExecutor_RegisterHandler(t *testing.T) {
	executor := NewExecutor(nil)

	executor.RegisterHandler("my-handler", func(ctx context.Context, req ReceivedTask) (string, error) {
		return "ok", nil
	})

	assert.True(t, executor.HasHandler("my-handler"))
	assert.False(t, executor.HasHandler("other-handler"))
}

func TestExecutor_HandlerNames(t *testing.T) {
	handlers := map[string]Handler{
		"email":   func(ctx context.Context, req ReceivedTask) (string, error) { return "", nil },
		"compute": func(ctx context.Context, req ReceivedTask) (string, error) { return "", nil },
		"notify":  func(ctx context.Context, req ReceivedTask) (string, error) { return "", nil },
	}

	executor := NewExecutor(handlers)
	names := executor.HandlerNames()

	assert.Len(t, names, 3)
	assert.Contains(t, names, "email")
	assert.Contains(t, names, "compute")
	assert.Contains(t, names, "notify")
}

func TestExecutor_Execute_Success(t *testing.T) {
	handlers := map[string]Handler{
		"echo": func(ctx context.Context, req ReceivedTask) (string, error) {
			return req.Param, nil
		},
	}

	executor := NewExecutor(handlers)
	req := ReceivedTask{TaskID: 1, Handler: "echo", Param: "hello"}

	result, err := executor.Execute(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestExecutor_Execute_Error(t *testing.T) {
	expectedErr := errors.New("task failed")
	handlers := map[string]Handler{
		"fail": func(ctx context.Context, req ReceivedTask) (string, error) {
			return "", expectedErr
		},
	}

	executor := NewExecutor(handlers)
	req := ReceivedTask{TaskID: 2, Handler: "fail"}

	result, err := executor.Execute(context.Background(), req)

	assert.Equal(t, expectedErr, err)
	assert.Empty(t, result)
}

func TestExecutor_Execute_HandlerNotFound(t *testing.T) {
	executor := NewExecutor(nil)
	req := ReceivedTask{TaskID: 3, Handler: "unknown"}

	result, err := executor.Execute(context.Background(), req)

	assert.Equal(t, ErrHandlerNotFound, err)
	assert.Empty(t, result)
}

func TestExecutor_Execute_Timeout(t *testing.T) {
	handlers := map[string]Handler{
		"slow": func(ctx context.Context, req ReceivedTask) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}

	executor := NewExecutor(handlers)
	req := ReceivedTask{TaskID: 4, Handler: "slow"}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := executor.Execute(ctx, req)

	assert.Equal(t, ErrTaskTimeout, err)
	assert.Empty(t, result)
}

func TestExecutor_Execute_Canceled(t *testing.T) {
	handlers := map[string]Handler{
		"slow": func(ctx context.Context, req ReceivedTask) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}

	executor := NewExecutor(handlers)
	req := ReceivedTask{TaskID: 5, Handler: "slow"}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := executor.Execute(ctx, req)

	assert.Equal(t, ErrTaskCanceled, err)
	assert.Empty(t, result)
}

func TestExecutor_Execute_Panic(t *testing.T) {
	handlers := map[string]Handler{
		"panic": func(ctx context.Context, req ReceivedTask) (string, error) {
			panic("something went wrong!")
		},
	}

	executor := NewExecutor(handlers)
	req := ReceivedTask{TaskID: 6, Handler: "panic"}

	result, err := executor.Execute(context.Background(), req)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "handler panicked")
	assert.Empty(t, result)
}

func TestExecutor_HasHandler(t *testing.T) {
	handlers := map[string]Handler{
		"exists": func(ctx context.Context, req ReceivedTask) (string, error) { return "", nil },
	}

	executor := NewExecutor(handlers)

	assert.True(t, executor.HasHandler("exists"))
	assert.False(t, executor.HasHandler("not-exists"))
}

func TestErrorDefinitions(t *testing.T) {
	assert.Equal(t, "worker: no handler registered for job", ErrHandlerNotFound.Error())
	assert.Equal(t, "worker: task execution timed out", ErrTaskTimeout.Error())
	assert.Equal(t, "worker: task execution canceled", ErrTaskCanceled.Error())
}
