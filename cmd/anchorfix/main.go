// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command anchorfix splices anchored regions of source files and cleans up
// artifacts left behind by pasted patches.
//
// Usage:
//
//	anchorfix splice page.tsx --start '<section' --end '</section>' --replacement-file block.tsx
//	anchorfix clean page.tsx --rule './src/=>../'
//	anchorfix apply fix.yaml --dry-run
//	anchorfix watch fix.yaml
//
// Exit codes: 0 on success, 2 if an anchor was not found, 1 otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/anchorfix/services/patch/splice"
)

// Exit codes.
const (
	exitOK             = 0
	exitFailure        = 1
	exitAnchorNotFound = 2
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := newApp(stdin, stdout, stderr)
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if terr := a.teardown(); err == nil {
		err = terr
	}
	if err != nil {
		fmt.Fprintf(stderr, "anchorfix: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

// exitCode maps an error to a process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, splice.ErrAnchorNotFound):
		return exitAnchorNotFound
	default:
		return exitFailure
	}
}
