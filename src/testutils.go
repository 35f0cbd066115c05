package swpll

import (
	"io"
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/*------------------------------------------------------------------
 *
 * Name:	RunTool
 *
 * Purpose:	Run a command line tool's main function inside a test.
 *
 * Inputs:	main	- SimMain, RegsMain, EquivMain or a cmd main.
 *
 *		args	- Command line, program name first.
 *
 * Returns:	Everything written to stdout.
 *
 * Description:	pflag expects to parse once per process, so each run
 *		gets a fresh flag set.  os.Args and the flag set are put
 *		back when the test ends.  Stdout is drained as it is
 *		written so long traces can't fill the pipe.
 *
 *------------------------------------------------------------------*/

func RunTool(t testing.TB, main func(), args ...string) string {
	t.Helper()
	require.NotEmpty(t, args, "need at least the program name")

	var oldArgs, oldFlags = os.Args, pflag.CommandLine
	t.Cleanup(func() {
		os.Args, pflag.CommandLine = oldArgs, oldFlags
	})

	os.Args = args
	pflag.CommandLine = pflag.NewFlagSet(args[0], pflag.ExitOnError)

	var r, w, err = os.Pipe()
	require.NoError(t, err)

	var output = make(chan []byte, 1)
	go func() {
		var b, _ = io.ReadAll(r)
		output <- b
	}()

	func() {
		var oldStdout = os.Stdout
		os.Stdout = w

		defer func() {
			os.Stdout = oldStdout
			w.Close() //nolint:gosec
		}()

		main()
	}()

	var b = <-output
	r.Close() //nolint:gosec

	return string(b)
}

// AssertToolOutput runs the tool and checks each of want appears in what
// it printed, which is returned for further checks.
func AssertToolOutput(t testing.TB, main func(), args []string, want ...string) string {
	t.Helper()

	var out = RunTool(t, main, args...)

	for _, s := range want {
		assert.Contains(t, out, s)
	}

	return out
}
