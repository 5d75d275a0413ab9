//go:build unix

package worker

import (
	"bufio"
	"os/exec"
	"testing"
	"time"
)

func startHandle(t *testing.T, name string, args ...string) *Handle {
	t.Helper()
	cmd := exec.Command(name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start %s: %v", name, err)
	}
	return newHandle(cmd, stdin, stdout)
}

func TestHandleExitCode(t *testing.T) {
	h := startHandle(t, "sh", "-c", "exit 3")

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}

	if h.Alive() {
		t.Error("Alive() = true after exit")
	}
	if code := h.ExitCode(); code != 3 {
		t.Errorf("ExitCode() = %d, want 3", code)
	}
	if h.ExitError() == nil {
		t.Error("ExitError() = nil for non-zero exit")
	}
}

func TestHandleCleanExit(t *testing.T) {
	h := startHandle(t, "true")

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}

	if code := h.ExitCode(); code != 0 {
		t.Errorf("ExitCode() = %d, want 0", code)
	}
	if err := h.ExitError(); err != nil {
		t.Errorf("ExitError() = %v, want nil", err)
	}
}

func TestHandleStdioRoundTrip(t *testing.T) {
	h := startHandle(t, "cat")
	defer func() {
		h.Stdin.Close()
		<-h.Done()
	}()

	if _, err := h.Stdin.Write([]byte("hello worker\n")); err != nil {
		t.Fatalf("write stdin: %v", err)
	}

	line, err := bufio.NewReader(h.Stdout).ReadString('\n')
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if line != "hello worker\n" {
		t.Errorf("read %q, want %q", line, "hello worker\n")
	}
	if !h.Alive() {
		t.Error("Alive() = false while cat still running")
	}
	if h.ID == "" {
		t.Error("handle has empty ID")
	}
}

func TestHandleExitCodeBeforeExit(t *testing.T) {
	h := startHandle(t, "cat")
	if code := h.ExitCode(); code != -1 {
		t.Errorf("ExitCode() = %d while running, want -1", code)
	}
	h.Stdin.Close()
	<-h.Done()
}
