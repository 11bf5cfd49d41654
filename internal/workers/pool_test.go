package workers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolWritesFileAndCreatesDirectories(t *testing.T) {
	p := NewPool(2, 8, nil)
	p.Start()
	defer p.Stop()

	dest := filepath.Join(t.TempDir(), "nested", "dir", "file.bin")
	id := p.Submit(Task{Type: "download", Dest: dest, Data: []byte("payload")})
	assert.NotEmpty(t, id)

	select {
	case result := <-p.Results():
		require.NoError(t, result.Error)
		assert.Equal(t, id, result.TaskID)
		assert.Equal(t, dest, result.Dest)
	case <-time.After(2 * time.Second):
		t.Fatal("no result within deadline")
	}

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestPoolPreservesExplicitTaskID(t *testing.T) {
	p := NewPool(1, 8, nil)
	p.Start()
	defer p.Stop()

	id := p.Submit(Task{ID: "export-42", Dest: filepath.Join(t.TempDir(), "f"), Data: []byte("x")})
	assert.Equal(t, "export-42", id)
}

func TestPoolAppliesCustomFileMode(t *testing.T) {
	p := NewPool(1, 8, nil)
	p.Start()

	dest := filepath.Join(t.TempDir(), "secret")
	p.Submit(Task{Dest: dest, Data: []byte("x"), Mode: 0o600})
	p.Stop()

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestPoolReportsFailedTask(t *testing.T) {
	p := NewPool(1, 8, nil)
	p.Start()
	defer p.Stop()

	p.Submit(Task{Type: "download"}) // no destination

	select {
	case result := <-p.Results():
		assert.Error(t, result.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("no result within deadline")
	}

	metrics := p.Metrics()
	assert.Equal(t, uint64(1), metrics.TasksSubmitted)
	assert.Equal(t, uint64(1), metrics.TasksFailed)
}

func TestPoolDrainsQueueOnStop(t *testing.T) {
	dir := t.TempDir()
	p := NewPool(1, 32, nil)

	// Queue before any worker runs so Stop has to drain.
	for i := 0; i < 10; i++ {
		p.Submit(Task{Dest: filepath.Join(dir, fmt.Sprintf("file-%d", i)), Data: []byte("x")})
	}
	p.Start()
	p.Stop()

	for i := 0; i < 10; i++ {
		_, err := os.Stat(filepath.Join(dir, fmt.Sprintf("file-%d", i)))
		assert.NoError(t, err)
	}
	assert.Equal(t, uint64(10), p.Metrics().TasksCompleted)
}

func TestPoolSkipsCancelledTask(t *testing.T) {
	p := NewPool(1, 8, nil)
	p.Start()
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "never")
	p.Submit(Task{Dest: dest, Data: []byte("x"), Context: ctx})

	select {
	case result := <-p.Results():
		assert.ErrorIs(t, result.Error, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("no result within deadline")
	}

	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
}

func TestSubmitWithContextGivesUpWhenQueueFull(t *testing.T) {
	p := NewPool(1, 1, nil)
	// Pool not started: the queue fills and stays full.
	p.Submit(Task{Dest: filepath.Join(t.TempDir(), "a"), Data: []byte("x")})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := p.SubmitWithContext(ctx, Task{Dest: filepath.Join(t.TempDir(), "b"), Data: []byte("x")})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
