package sinks

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/arnavsurve/stepwright/pkg/log"
	"github.com/arnavsurve/stepwright/pkg/types"
	"github.com/fatih/color"
)

var levelColors = map[types.Level]*color.Color{
	types.DebugLevel: color.New(color.FgCyan),
	types.InfoLevel:  color.New(color.FgGreen),
	types.WarnLevel:  color.New(color.FgYellow),
	types.ErrorLevel: color.New(color.FgRed),
	types.FatalLevel: color.New(color.FgRed, color.Bold),
}

type ConsoleSink struct {
	out      io.Writer
	minLevel types.Level
}

func NewConsoleSink(minLevel types.Level) *ConsoleSink {
	return &ConsoleSink{out: os.Stdout, minLevel: minLevel}
}

func (c *ConsoleSink) Write(event *log.LogEvent) error {
	if event.Level < c.minLevel {
		return nil
	}

	levelFmt := color.New(color.FgWhite).SprintFunc()
	if lc, ok := levelColors[event.Level]; ok {
		levelFmt = lc.SprintFunc()
	}
	timestampFmt := color.New(color.FgWhite).SprintFunc()

	prefix := fmt.Sprintf("[%s %s] %s: ",
		levelFmt(strings.ToUpper(log.LevelString(event.Level))),
		timestampFmt(event.Timestamp.Format(time.RFC3339)),
		color.CyanString(stepLabel(event.Fields)),
	)

	source := getStringField(event.Fields, "source")
	pythonLine := getStringField(event.Fields, "python_line")
	errorMsg := getStringField(event.Fields, "error")

	var output string
	switch {
	case pythonLine != "" && source != "":
		output = fmt.Sprintf("%s[python/%s]: %s", prefix, color.BlueString(source), pythonLine)
	case errorMsg != "" && event.Message != "":
		output = fmt.Sprintf("%s%s: %s", prefix, event.Message, errorMsg)
	case errorMsg != "":
		output = prefix + errorMsg
	case event.Message != "":
		output = prefix + event.Message
	default:
		fieldsStr, _ := json.MarshalIndent(event.Fields, "", "  ")
		output = prefix + string(fieldsStr)
	}
	_, err := fmt.Fprintln(c.out, output)
	return err
}

// stepLabel prints "step 3/click_element" when the event is step scoped and
// "task" otherwise.
func stepLabel(fields map[string]any) string {
	idx, ok := fields["step_index"].(float64)
	if !ok {
		return "task"
	}
	label := fmt.Sprintf("step %d", int(idx))
	if action := getStringField(fields, "action"); action != "" {
		label += "/" + action
	}
	return label
}

func getStringField(fields map[string]any, key string) string {
	if val, ok := fields[key]; ok {
		if strVal, isStr := val.(string); isStr {
			return strVal
		}
	}
	return ""
}

func (c *ConsoleSink) Close() error {
	return nil
}
