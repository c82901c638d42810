package action

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/memory"
	"github.com/arnavsurve/stepwright/pkg/types"
)

// PythonRunner executes inline python with the run variables on stdin.
type PythonRunner struct {
	Interpreter string
	Logger      types.Logger
}

// ScriptResult is what an inline script left behind.
type ScriptResult struct {
	Stdout   string
	ExitCode int
	// Output is set when stdout was a JSON object.
	Output map[string]any
}

type scriptInput struct {
	InputVariables     map[string][]string `json:"input_variables"`
	GeneratedVariables map[string][]string `json:"generated_variables"`
	OutputData         []map[string]any    `json:"output_data"`
}

// Run executes code with python -c. A non-zero exit is reported through
// ExitCode, not as an error; errors mean the script could not run at all.
func (p *PythonRunner) Run(ctx context.Context, code string, m *memory.Memory) (*ScriptResult, error) {
	interpreter := p.Interpreter
	if interpreter == "" {
		interpreter = "python3"
	}

	stdin, err := json.Marshal(scriptInput{
		InputVariables:     m.InputVariables,
		GeneratedVariables: m.GeneratedVariables,
		OutputData:         m.OutputData,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding script input: %w", err)
	}

	// #nosec G204
	cmd := exec.CommandContext(ctx, interpreter, "-c", code)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	p.Logger.Info().Str("python", interpreter).Msg("Starting python script execution")
	waitErr := cmd.Run()

	logBuffer(strings.NewReader(stderrBuf.String()), "STDERR", p.Logger, "python_line")
	logBuffer(strings.NewReader(stdoutBuf.String()), "STDOUT", p.Logger, "python_line")

	res := &ScriptResult{Stdout: strings.TrimSpace(stdoutBuf.String())}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("error executing script: %w", waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
		p.Logger.Error().Int("exit_code", res.ExitCode).Msg("Script exited with non-zero code")
		return res, nil
	}

	var structured map[string]any
	if err := json.Unmarshal([]byte(res.Stdout), &structured); err == nil {
		p.Logger.Debug().Msg("Python output was valid JSON, promoting to structured output.")
		res.Output = structured
	}
	return res, nil
}

// logBuffer streams reader content line by line to the logger.
func logBuffer(r io.Reader, source string, logger types.Logger, logKey string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Info().
			Str("source", source).
			Str(logKey, scanner.Text()).
			Msg("Script output")
	}
}

func (e *Executor) python() *PythonRunner {
	if e.Python != nil {
		return e.Python
	}
	return &PythonRunner{Logger: e.Logger}
}

func (e *Executor) runPythonScript(ctx context.Context, a *automation.PythonScriptAction) error {
	res, err := e.python().Run(ctx, a.ExecutionCode, e.Memory)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("python script exited with code %d", res.ExitCode)
	}
	if res.Output != nil {
		e.Memory.AddOutput(res.Output)
	}
	return nil
}
