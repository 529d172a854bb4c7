package scheduler

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"cadence/internal/task/executor"
	logx "cadence/pkg/logx"
)

const maxCommandOutput = 2048

// LogAction logs msg on every run.
func LogAction(log logx.Logger, job, msg string) executor.Func {
	return func(h *executor.Handle) {
		log.Info(msg, logx.String("job", job), logx.String("executor", h.Name()))
	}
}

// CommandAction runs argv to completion on every run.
//
// The command blocks the execution context like any other callback. The child
// is not bound to the executor context: stopping waits for it to exit instead
// of killing it.
func CommandAction(log logx.Logger, job string, argv []string, dir string) executor.Func {
	argv = append([]string(nil), argv...)
	return func(h *executor.Handle) {
		if len(argv) == 0 {
			return
		}
		start := time.Now()
		cmd := exec.Command(argv[0], argv[1:]...)
		cmd.Dir = dir
		out := &tailBuffer{max: maxCommandOutput}
		cmd.Stdout = out
		cmd.Stderr = out

		err := cmd.Run()
		fields := []logx.Field{
			logx.String("job", job),
			logx.String("cmd", argv[0]),
			logx.Duration("took", time.Since(start)),
		}
		if tail := strings.TrimSpace(out.String()); tail != "" {
			fields = append(fields, logx.String("output", tail))
		}
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				fields = append(fields, logx.Int("exit_code", exitErr.ExitCode()))
			}
			log.Warn("job command failed", append(fields, logx.Err(err))...)
			return
		}
		log.Debug("job command finished", fields...)
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if len(p) > b.max {
		p = p[len(p)-b.max:]
	}
	if over := b.buf.Len() + len(p) - b.max; over > 0 {
		b.buf.Next(over)
	}
	b.buf.Write(p)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
