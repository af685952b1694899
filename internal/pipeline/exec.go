package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/citylens/citylens/pkg/domain"
)

// progressPrefix marks machine-readable progress lines on the child's stdout:
//
//	progress <percent> <stage>
const progressPrefix = "progress "

// ExecPipeline runs the geometry pipeline as an external process. The request
// is passed as JSON on stdin and the work dir as the single argument; the
// process writes its artifacts into the work dir and may emit progress lines.
type ExecPipeline struct {
	command string
	logger  *slog.Logger
}

func NewExecPipeline(command string, logger *slog.Logger) *ExecPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecPipeline{command: command, logger: logger}
}

func (p *ExecPipeline) Run(ctx context.Context, req domain.Request, workDir string, progress func(percent int, stage string)) (map[string]string, error) {
	if p.command == "" {
		return nil, fmt.Errorf("no pipeline command configured")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.command, workDir)
	cmd.Stdin = strings.NewReader(string(payload))
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start pipeline %s: %w", p.command, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, progressPrefix) {
			p.logger.Info("pipeline output", "line", line)
			continue
		}
		percent, stage, ok := parseProgress(line)
		if ok && progress != nil {
			progress(percent, stage)
		}
	}

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", p.command, err)
	}

	return collectOutputs(workDir)
}

func parseProgress(line string) (int, string, bool) {
	rest := strings.TrimPrefix(line, progressPrefix)
	fields := strings.SplitN(rest, " ", 2)
	percent, err := strconv.Atoi(fields[0])
	if err != nil || percent < 0 || percent > 100 {
		return 0, "", false
	}
	stage := ""
	if len(fields) == 2 {
		stage = strings.TrimSpace(fields[1])
	}
	return percent, stage, true
}

// collectOutputs lists the regular files the pipeline left at the top level
// of the work dir. Subdirectories are scratch space and are ignored.
func collectOutputs(workDir string) (map[string]string, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	outputs := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		outputs[e.Name()] = filepath.Join(workDir, e.Name())
	}
	return outputs, nil
}
