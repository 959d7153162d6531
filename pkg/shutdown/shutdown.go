package shutdown

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"astrolink/pkg/logger"
	"astrolink/pkg/state"
)

type exitRequest struct {
	Time      string `json:"time"`
	Reason    string `json:"reason"`
	Cmd       string `json:"cmd"`
	CrashPath string `json:"crash_path,omitempty"`
}

// OnSignal installs SIGINT/SIGTERM handling and runs the provided
// closers in order before exiting. Closer errors are logged, not fatal.
func OnSignal(closers ...func() error) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", "signal", s.String())
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Error("shutdown_closer_failed", "error", err)
			}
		}
		os.Exit(0)
	}()
}

// Abort logs a fatal startup error, writes crash diagnostics and exits
// after a short delay so logs have time to flush.
func Abort(contextMsg string, err error, delaySeconds ...int) {
	delay := 5
	if len(delaySeconds) > 0 && delaySeconds[0] >= 0 {
		delay = delaySeconds[0]
	}
	logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	dumpPath, derr := writeDiagnostics(contextMsg, err)
	if derr != nil {
		logger.Error("abort_diag_write_failed", "error", derr)
		fmt.Fprintf(os.Stderr, "FAILED TO WRITE CRASH DUMP: %v\n", derr)
	} else {
		logger.Error("startup_fatal_crashdump", "path", dumpPath)
	}
	time.Sleep(time.Duration(delay) * time.Second)
	os.Exit(2)
}

// writeDiagnostics writes a crash dump (goroutine stacks plus the
// failure context) and an exit request file referencing it.
func writeDiagnostics(reason string, err error) (string, error) {
	crashDir := state.PathsVar.Crash
	if crashDir == "" {
		crashDir = "./crash"
	}
	if e := os.MkdirAll(crashDir, 0o700); e != nil {
		return "", fmt.Errorf("failed to create crash dir: %w", e)
	}

	ts := time.Now().UnixNano()
	dumpPath := filepath.Join(crashDir, fmt.Sprintf("crash-%d.log", ts))

	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	body := fmt.Sprintf("reason: %s\nerror: %v\n\n%s", reason, err, buf[:n])
	if e := os.WriteFile(dumpPath, []byte(body), 0o600); e != nil {
		return "", fmt.Errorf("failed to write crash dump: %w", e)
	}

	req := exitRequest{
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		Reason:    reason,
		Cmd:       os.Args[0],
		CrashPath: dumpPath,
	}
	rb, _ := json.Marshal(req)
	reqPath := filepath.Join(crashDir, fmt.Sprintf("exit-%d.json", ts))
	if e := os.WriteFile(reqPath, rb, 0o600); e != nil {
		return dumpPath, fmt.Errorf("failed to write exit request: %w", e)
	}
	return dumpPath, nil
}
