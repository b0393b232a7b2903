package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fgeck/gohotbackup/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExecutor is a mock implementation of CommandExecutor for testing.
type mockExecutor struct {
	executeFunc func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func (m *mockExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	if m.executeFunc != nil {
		return m.executeFunc(ctx, name, args...)
	}
	return nil, nil
}

type report struct {
	fraction float64
	status   string
}

type engineError struct {
	code    int
	message string
}

// recorder collects callbacks; onPoll decides the poll return value.
type recorder struct {
	mu     sync.Mutex
	polls  []report
	errors []engineError
	onPoll func(fraction float64, status string) int
}

func (r *recorder) Poll(fraction float64, status string) int {
	r.mu.Lock()
	r.polls = append(r.polls, report{fraction: fraction, status: status})
	r.mu.Unlock()
	if r.onPoll != nil {
		return r.onPoll(fraction, status)
	}
	return 0
}

func (r *recorder) Error(code int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, engineError{code: code, message: message})
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// helperConfig runs this test binary as a fake engine in the given mode.
func helperConfig(mode string) models.EngineConfig {
	return models.EngineConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--"},
		Env:     []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode},
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	var engineArgs []string
	for i, arg := range os.Args {
		if arg == "--" {
			engineArgs = os.Args[i+1:]
			break
		}
	}

	switch os.Getenv("HELPER_MODE") {
	case "success":
		fmt.Println("poll 0 Preparing backup")
		fmt.Println("some chatter")
		fmt.Println("poll 0.5 Backup progress 100 bytes, 1 files. Copying file: 50/100 bytes done of /a to /b/a.")
		fmt.Println("poll nope malformed")
		fmt.Println("poll 1 Backup progress 200 bytes, 2 files. Copying file: 100/100 bytes done of /a to /b/a.")
	case "args":
		fmt.Printf("poll 0 %s\n", strings.Join(engineArgs, " "))
	case "failure":
		fmt.Println("error 28 No space left on device")
		os.Exit(3)
	case "throttle":
		fmt.Printf("poll 0 env %s\n", os.Getenv(ThrottleEnv))
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		fmt.Printf("poll 0.5 got %s\n", strings.TrimSpace(line))
	case "abort":
		for i := 0; ; i++ {
			fmt.Printf("poll 0.1 tick %d\n", i)
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestCreateBackup_Success(t *testing.T) {
	eng := NewCommand(testLogger(), helperConfig("success"))
	rec := &recorder{}

	status := eng.CreateBackup([]string{"/a"}, []string{"/b"}, rec)

	assert.Equal(t, 0, status)
	require.Len(t, rec.polls, 3)
	assert.Equal(t, report{0, "Preparing backup"}, rec.polls[0])
	assert.Equal(t, 0.5, rec.polls[1].fraction)
	assert.Equal(t, "Backup progress 100 bytes, 1 files. Copying file: 50/100 bytes done of /a to /b/a.", rec.polls[1].status)
	assert.Equal(t, 1.0, rec.polls[2].fraction)
	assert.Empty(t, rec.errors)
}

func TestCreateBackup_PassesDirectoryPairs(t *testing.T) {
	eng := NewCommand(testLogger(), helperConfig("args"))
	rec := &recorder{}

	status := eng.CreateBackup([]string{"/db/data", "/db/log"}, []string{"/bk/data", "/bk/log"}, rec)

	assert.Equal(t, 0, status)
	require.Len(t, rec.polls, 1)
	assert.Equal(t, "--source /db/data --dest /bk/data --source /db/log --dest /bk/log", rec.polls[0].status)
}

func TestCreateBackup_Failure(t *testing.T) {
	eng := NewCommand(testLogger(), helperConfig("failure"))
	rec := &recorder{}

	status := eng.CreateBackup([]string{"/a"}, []string{"/b"}, rec)

	assert.Equal(t, 3, status)
	assert.Equal(t, []engineError{{code: 28, message: "No space left on device"}}, rec.errors)
}

func TestCreateBackup_Throttle(t *testing.T) {
	eng := NewCommand(testLogger(), helperConfig("throttle"))
	eng.Throttle(1024)

	rec := &recorder{
		onPoll: func(fraction float64, status string) int {
			if strings.HasPrefix(status, "env ") {
				eng.Throttle(2048)
			}
			return 0
		},
	}

	status := eng.CreateBackup([]string{"/a"}, []string{"/b"}, rec)

	assert.Equal(t, 0, status)
	require.Len(t, rec.polls, 2)
	assert.Equal(t, "env 1024", rec.polls[0].status)
	assert.Equal(t, "got throttle 2048", rec.polls[1].status)
	assert.Equal(t, uint64(2048), eng.currentRate())
}

func TestThrottle_EngineNotReadingStdin(t *testing.T) {
	// The abort helper never reads stdin, so enough throttle lines would fill the pipe.
	eng := NewCommand(testLogger(), helperConfig("abort"))
	const calls = 20000

	var once sync.Once
	throttled := make(chan struct{})
	rec := &recorder{
		onPoll: func(fraction float64, status string) int {
			once.Do(func() {
				go func() {
					defer close(throttled)
					for i := 0; i < calls; i++ {
						eng.Throttle(uint64(1<<20 + i))
					}
				}()
			})
			select {
			case <-throttled:
				return -1
			case <-time.After(10 * time.Millisecond):
				return 0
			}
		},
	}

	done := make(chan int, 1)
	go func() {
		done <- eng.CreateBackup([]string{"/a"}, []string{"/b"}, rec)
	}()

	select {
	case status := <-done:
		assert.Equal(t, -1, status)
	case <-time.After(15 * time.Second):
		t.Fatal("throttle blocked on an engine that does not read stdin")
	}
	assert.Equal(t, uint64(1<<20+calls-1), eng.currentRate())
}

func TestCreateBackup_Abort(t *testing.T) {
	eng := NewCommand(testLogger(), helperConfig("abort"))
	rec := &recorder{
		onPoll: func(fraction float64, status string) int {
			return -1
		},
	}

	status := eng.CreateBackup([]string{"/a"}, []string{"/b"}, rec)

	assert.NotEqual(t, 0, status)
	assert.Len(t, rec.polls, 1)
	assert.Equal(t, []engineError{{code: AbortCode, message: AbortMessage}}, rec.errors)
}

func TestCreateBackup_MissingExecutable(t *testing.T) {
	eng := NewCommand(testLogger(), models.EngineConfig{Command: "/nonexistent/hotbackup-engine"})
	rec := &recorder{}

	status := eng.CreateBackup([]string{"/a"}, []string{"/b"}, rec)

	assert.Equal(t, -1, status)
	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0].message, "could not start backup engine")
}

func TestCreateBackup_MismatchedPairs(t *testing.T) {
	eng := NewCommand(testLogger(), helperConfig("success"))
	rec := &recorder{}

	status := eng.CreateBackup([]string{"/a", "/b"}, []string{"/c"}, rec)

	assert.Equal(t, -1, status)
	assert.Empty(t, rec.polls)
	require.Len(t, rec.errors, 1)
}

func TestThrottle_WithoutRunningProcess(t *testing.T) {
	eng := NewCommand(testLogger(), helperConfig("success"))

	eng.Throttle(0)
	assert.Equal(t, uint64(0), eng.currentRate())

	eng.Throttle(1 << 40)
	assert.Equal(t, uint64(1<<40), eng.currentRate())
}

func TestVersion(t *testing.T) {
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			assert.Equal(t, "/usr/bin/engine", name)
			assert.Equal(t, []string{"--version"}, args)
			return []byte("hotbackup 1.4.2\n"), nil
		},
	}
	eng := NewCommandWithExecutor(testLogger(), models.EngineConfig{
		Command:     "/usr/bin/engine",
		VersionArgs: []string{"--version"},
	}, executor)

	version, err := eng.Version(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "hotbackup 1.4.2", version)
}

func TestVersion_Error(t *testing.T) {
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("not found"), errors.New("exit status 127")
		},
	}
	eng := NewCommandWithExecutor(testLogger(), models.EngineConfig{Command: "engine"}, executor)

	_, err := eng.Version(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query engine version")
}
