package provider

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"scenepipe/internal/media"
)

// Exit codes a generator command can use to classify its failure (sysexits.h).
const (
	ExitDataErr  = 65 // invalid input
	ExitTempFail = 75 // rate limited, retry later
	ExitNoPerm   = 77 // content policy rejection
)

// ExecGenerator runs a local command per request, e.g. an offline TTS engine.
//
// The prompt is written to stdin, request fields are exported as SCENEPIPE_*
// environment variables, and the command runs inside a per-request work
// directory. The first non-empty stdout line is the asset location; a bare
// path is resolved against the work directory and returned as a file:// URL.
type ExecGenerator struct {
	Command []string
	WorkDir string
}

// NewExecGenerator creates a command-backed generator.
// workDir defaults to $TMPDIR/scenepipe/runner.
func NewExecGenerator(command []string, workDir string) *ExecGenerator {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "scenepipe", "runner")
	}
	return &ExecGenerator{Command: command, WorkDir: workDir}
}

// Generate implements Generator.
func (e *ExecGenerator) Generate(ctx context.Context, req media.Request) (Result, error) {
	if len(e.Command) == 0 {
		return Result{}, Errorf(KindInvalidInput, "command is required")
	}

	dir := filepath.Join(e.WorkDir, safeSegment(req.JobID), string(req.Stage), safeSegment(req.SceneID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create work dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Env = append(os.Environ(), requestEnv(req)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, Errorf(KindTimeout, "command interrupted: %v", ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = fmt.Sprintf("exit code %d", exitErr.ExitCode())
			}
			return Result{}, &Error{Kind: kindForExitCode(exitErr.ExitCode()), Message: msg}
		}
		return Result{}, Errorf(KindInvalidInput, "start command: %v", err)
	}

	location := firstLine(stdout.Bytes())
	if location == "" {
		return Result{}, Errorf(KindUnknown, "command produced no output location")
	}
	if !strings.Contains(location, "://") {
		if !filepath.IsAbs(location) {
			location = filepath.Join(dir, location)
		}
		location = "file://" + location
	}

	return Result{URL: location, ContentType: contentType(req.Stage)}, nil
}

func kindForExitCode(code int) Kind {
	switch code {
	case ExitTempFail:
		return KindRateLimited
	case ExitDataErr:
		return KindInvalidInput
	case ExitNoPerm:
		return KindContentPolicy
	}
	return KindUnknown
}

func requestEnv(req media.Request) []string {
	env := []string{
		"SCENEPIPE_JOB_ID=" + req.JobID,
		"SCENEPIPE_SCENE_ID=" + req.SceneID,
		"SCENEPIPE_STAGE=" + string(req.Stage),
		"SCENEPIPE_MODEL=" + req.Model,
	}
	for k, v := range ParamsMap(req.Params) {
		var s string
		switch val := v.(type) {
		case float64:
			s = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			s = fmt.Sprint(val)
		}
		env = append(env, "SCENEPIPE_PARAM_"+strings.ToUpper(k)+"="+s)
	}
	return env
}

func firstLine(b []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}

// safeSegment keeps ids from escaping the work directory.
func safeSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(strings.TrimSpace(s))
	if s == "" {
		return "_"
	}
	return s
}

var _ Generator = (*ExecGenerator)(nil)
