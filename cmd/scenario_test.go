package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestScenarioCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"scenario", "--env-file", "", "../qa/scenarios/testdata"})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("scenario: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "PASS  simple split") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	if strings.Contains(out.String(), "FAIL") {
		t.Fatalf("failures reported:\n%s", out.String())
	}
}
