package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ErrClosing is returned when the process manager is in the process of closing,
// meaning that no more child processes can be Exec'd, and existing, non-failed
// child processes will be stopped with this error.
var ErrClosing = errors.New("process manager is already closing")

// ChildExit is returned when a child process exits with a non-zero exit code
type ChildExit struct {
	ExitCode int
	Command  string
}

func (ce *ChildExit) Error() string {
	return fmt.Sprintf("command %s exited (%d)", ce.Command, ce.ExitCode)
}

// TaskID identifies the task a child process was spawned on behalf of. It's
// the same package#task identifier used throughout the task graph.
type TaskID = string

// Manager tracks every child process spawned on behalf of a task, indexed by
// the task that owns it, so that a subset of tasks can be stopped (e.g. a
// persistent dev task whose dependents just finished) without disturbing the
// rest of a run.
//
// isClosing and the children map share a single mutex. StopTasks must
// observe isClosing under that same lock before it removes anything from
// the map: otherwise a task could race a concurrent Close, get removed from
// the map by StopTasks, and then never be signalled by either caller,
// leaking the child. Checking isClosing under the lock and bailing out
// (leaving Close to stop those children instead) is what closes that gap.
type Manager struct {
	mu        sync.Mutex
	isClosing bool
	children  map[TaskID][]*Child
	doneCh    chan struct{}
	logger    hclog.Logger
}

// NewManager creates a new properly-initialized Manager instance
func NewManager(logger hclog.Logger) *Manager {
	return &Manager{
		children: make(map[TaskID][]*Child),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}
}

// Exec spawns a child process on behalf of taskID to run the given command,
// then blocks until it completes. Returns a nil error if the child process
// finished successfully or was stopped through StopTasks, ErrClosing if the
// manager closed during execution,
// and a ChildExit error if the child process exited with a non-zero exit
// code.
func (m *Manager) Exec(taskID TaskID, cmd *exec.Cmd) error {
	child, err := m.spawn(taskID, cmd)
	if err != nil {
		return err
	}

	err = child.Start()
	if err != nil {
		m.forget(taskID, child)
		return err
	}

	var execErr error
	exitCode, ok := <-child.ExitCh()
	if !ok {
		// The exit channel closes without a code only when the child was
		// stopped; only a stop that comes from Close is reported as ErrClosing.
		m.mu.Lock()
		closing := m.isClosing
		m.mu.Unlock()
		if closing {
			execErr = ErrClosing
		}
	} else if exitCode != ExitCodeOK {
		execErr = &ChildExit{
			ExitCode: exitCode,
			Command:  child.Command(),
		}
	}

	m.forget(taskID, child)
	return execErr
}

// spawn registers a new child under taskID. Registration is refused once the
// manager is closing, matching the check Close performs under the same lock.
func (m *Manager) spawn(taskID TaskID, cmd *exec.Cmd) (*Child, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isClosing {
		return nil, ErrClosing
	}

	child, err := newChild(NewInput{
		Cmd: cmd,
		// Run forever by default
		Timeout: 0,
		// When it's time to exit, give a 10 second timeout
		KillTimeout: 10 * time.Second,
		// Send SIGINT to stop children
		KillSignal: os.Interrupt,
		Logger:     m.logger,
	})
	if err != nil {
		return nil, err
	}

	m.children[taskID] = append(m.children[taskID], child)
	return child, nil
}

func (m *Manager) forget(taskID TaskID, child *Child) {
	m.mu.Lock()
	defer m.mu.Unlock()
	siblings := m.children[taskID]
	for i, c := range siblings {
		if c == child {
			m.children[taskID] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(m.children[taskID]) == 0 {
		delete(m.children, taskID)
	}
}

// StopTasks stops every child process registered under the given task IDs
// and removes them from tracking. If the manager is already closing, this is
// a no-op: Close already owns stopping every remaining child, and racing it
// here would let a child be removed from the map without either caller
// actually signalling it.
func (m *Manager) StopTasks(taskIDs []TaskID) {
	m.mu.Lock()
	if m.isClosing {
		m.mu.Unlock()
		return
	}
	var toStop []*Child
	for _, id := range taskIDs {
		toStop = append(toStop, m.children[id]...)
		delete(m.children, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, child := range toStop {
		child := child
		wg.Add(1)
		go func() {
			defer wg.Done()
			child.Stop()
		}()
	}
	wg.Wait()
}

// Close sends SIGINT to all child processes if it hasn't been done yet,
// and in either case blocks until they all exit or timeout
func (m *Manager) Close() {
	m.mu.Lock()
	if m.isClosing {
		m.mu.Unlock()
		<-m.doneCh
		return
	}
	m.isClosing = true
	wg := sync.WaitGroup{}
	for _, siblings := range m.children {
		for _, child := range siblings {
			child := child
			wg.Add(1)
			go func() {
				defer wg.Done()
				child.Stop()
			}()
		}
	}
	m.children = make(map[TaskID][]*Child)
	m.mu.Unlock()
	wg.Wait()
	close(m.doneCh)
}
