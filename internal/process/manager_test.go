package process

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-gatedio"
	"github.com/hashicorp/go-hclog"
)

func newManager() *Manager {
	return NewManager(hclog.Default())
}

func TestExec_simple(t *testing.T) {
	mgr := newManager()

	out := gatedio.NewByteBuffer()
	cmd := exec.Command("env")
	cmd.Stdout = out

	err := mgr.Exec("//#env", cmd)
	if err != nil {
		t.Errorf("expected %q to be nil", err)
	}

	output := out.String()
	if output == "" {
		t.Error("expected output from running 'env', got empty string")
	}
}

func TestClose(t *testing.T) {
	mgr := newManager()

	wg := sync.WaitGroup{}
	tasks := 4
	errors := make([]error, tasks)
	start := time.Now()
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func(index int) {
			cmd := exec.Command("sleep", "0.5")
			err := mgr.Exec(TaskID(fmt.Sprintf("//#sleep%d", index)), cmd)
			if err != nil {
				errors[index] = err
			}
			wg.Done()
		}(i)
	}
	// let processes kick off
	time.Sleep(50 * time.Millisecond)
	mgr.Close()
	end := time.Now()
	wg.Wait()
	duration := end.Sub(start)
	if duration >= 500*time.Millisecond {
		t.Errorf("expected to close, total time was %q", duration)
	}
	for _, err := range errors {
		if err != ErrClosing {
			t.Errorf("expected manager closing error, found %q", err)
		}
	}
}

func TestClose_alreadyClosed(t *testing.T) {
	mgr := newManager()
	mgr.Close()

	// repeated closing does not error
	mgr.Close()

	err := mgr.Exec("//#sleep", exec.Command("sleep", "1"))
	if err != ErrClosing {
		t.Errorf("expected manager closing error, found %q", err)
	}
}

func TestExitCode(t *testing.T) {
	mgr := newManager()

	err := mgr.Exec("//#ls", exec.Command("ls", "doesnotexist"))
	exitErr := &ChildExit{}
	if !errors.As(err, &exitErr) {
		t.Errorf("expected a ChildExit err, got %q", err)
	}
	if exitErr.ExitCode == 0 {
		t.Error("expected non-zero exit code , got 0")
	}
}

func TestStopTasks_doesNotAffectOthers(t *testing.T) {
	mgr := newManager()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = mgr.Exec("//#dev", exec.Command("sleep", "2"))
	}()
	go func() {
		defer wg.Done()
		errs[1] = mgr.Exec("//#build", exec.Command("sleep", "0.3"))
	}()

	time.Sleep(50 * time.Millisecond)
	mgr.StopTasks([]TaskID{"//#dev"})

	wg.Wait()
	if errs[0] != nil {
		t.Errorf("expected stopped task to return nil (graceful stop), got %q", errs[0])
	}
	if errs[1] != nil {
		t.Errorf("expected untouched task to finish cleanly, got %q", errs[1])
	}
}

func TestStopTasks_noopWhileClosing(t *testing.T) {
	mgr := newManager()
	mgr.Close()
	// StopTasks on an already-closing manager must not panic or block; Close
	// already owns stopping everything.
	mgr.StopTasks([]TaskID{"//#anything"})
}
