package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/txmod/internal/value"
)

// Snapshot renders a trace for golden comparison: a header line with the
// scenario name, then one canonical JSON object per event.
func Snapshot(scenarioName string, trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	header, err := value.Marshal(value.Object{"scenario": value.String(scenarioName)})
	if err != nil {
		return nil, err
	}
	buf.Write(header)
	buf.WriteByte('\n')

	for _, event := range trace {
		line, err := value.Marshal(eventObject(event))
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// eventObject converts an event to a value.Object, omitting empty fields.
func eventObject(e TraceEvent) value.Object {
	obj := value.Object{
		"seq":  value.Int(e.Seq),
		"type": value.String(e.Type),
		"name": value.String(e.Name),
	}
	if e.Module != "" {
		obj["module"] = value.String(e.Module)
	}
	if e.Detail != "" {
		obj["detail"] = value.String(e.Detail)
	}
	if e.Outcome != "" {
		obj["outcome"] = value.String(e.Outcome)
	}
	return obj
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can inspect Pass and Errors; the trace
// comparison itself fails the test through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, snapshot)
	return nil
}
