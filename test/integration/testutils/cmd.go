package testutils

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

var multiSpaceRegex = regexp.MustCompile(" +")

// RunOcrtrack executes an ocrtrack command with the given arguments string (split by spaces).
// Use RunOcrtrackArgs when arguments contain spaces that should be preserved.
func RunOcrtrack(ctx context.Context, env []string, binary, cmdArgs string, nolog bool) (stdout, stderr []byte, err error) {
	// Sanitize command.
	cmdArgs = strings.TrimSpace(cmdArgs)
	cmdArgs = multiSpaceRegex.ReplaceAllString(cmdArgs, " ")

	// Split into args.
	var args []string
	if cmdArgs != "" {
		args = strings.Split(cmdArgs, " ")
	}

	return RunOcrtrackArgs(ctx, env, binary, args, nolog)
}

// RunOcrtrackArgs executes an ocrtrack command with pre-split arguments.
func RunOcrtrackArgs(ctx context.Context, env []string, binary string, args []string, nolog bool) (stdout, stderr []byte, err error) {
	var outData, errData bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &outData
	cmd.Stderr = &errData

	// In Go's exec.Cmd, when duplicate keys exist, the last one wins.
	newEnv := append([]string{}, os.Environ()...)
	newEnv = append(newEnv, env...)
	if nolog {
		newEnv = append(newEnv, "OCRTRACK_NO_LOG=true")
	}
	cmd.Env = newEnv

	err = cmd.Run()

	return outData.Bytes(), errData.Bytes(), err
}
