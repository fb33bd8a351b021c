package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
)

// ghadapter runs a command, passes its stdout through, exports the JSON object
// it printed to $GITHUB_OUTPUT and exits with the command's exit status.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ghadapter command [args...]")
		os.Exit(1)
	}

	cmd := exec.Command(os.Args[1], os.Args[2:]...)
	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr

	output, err := cmd.Output()
	_, _ = os.Stdout.Write(output)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "failed to run %s: %v\n", os.Args[1], err)
			os.Exit(1)
		}
		exitCode = exitErr.ExitCode()
	}

	if githubOutput := os.Getenv("GITHUB_OUTPUT"); githubOutput != "" {
		if err := appendOutputs(githubOutput, output); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write GitHub outputs: %v\n", err)
		}
	}

	os.Exit(exitCode)
}

func appendOutputs(path string, output []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	return writeOutputs(f, output)
}

// writeOutputs writes one key=value line per top level field of the JSON
// object in output. Non-scalar values are written as compact JSON. Output that
// is not a JSON object is ignored.
func writeOutputs(w io.Writer, output []byte) error {
	var result map[string]json.RawMessage
	if err := json.Unmarshal(output, &result); err != nil {
		return nil
	}

	keys := make([]string, 0, len(result))
	for key := range result {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		raw := strings.TrimSpace(string(result[key]))
		value := raw
		var s string
		if err := json.Unmarshal(result[key], &s); err == nil {
			value = s
		}
		if strings.ContainsAny(value, "\r\n") {
			value = strings.NewReplacer("\r", "", "\n", " ").Replace(value)
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", key, value); err != nil {
			return err
		}
	}
	return nil
}
