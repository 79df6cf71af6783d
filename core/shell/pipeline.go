package shell

import "fmt"

// Limits carried over from the classic fixed-array shells this grammar
// descends from. They're enforced as parse errors rather than silent
// truncation.
const (
	// MaxArgs is the argument list capacity of a single stage, counting
	// the program name. At most MaxArgs-1 arguments parse successfully.
	MaxArgs = 128
	// MaxPipe is the maximum number of pipe-separated stages on a line.
	MaxPipe = 16
)

// Stage is one segment of a pipeline: a program, its arguments and any
// redirection that applies to it. Stages are built by Parse and are
// read-only afterwards.
type Stage struct {
	// Args holds the program name at index 0 followed by its arguments.
	// Never empty for a Stage produced by Parse.
	Args []string

	// Input is the path standard input is redirected from, or "".
	Input string

	// Output is the path standard output is redirected to, or "".
	// The file is created or truncated at execution time.
	Output string

	// Background is set only on the final stage, and only when '&' was
	// the last token on the line.
	Background bool
}

// Pipeline is the ordered list of stages parsed from one input line.
//
// Invariants for any Pipeline returned by Parse: 1..MaxPipe stages,
// every stage has at least one argument, only the first stage may set
// Input, only the last stage may set Output or Background.
type Pipeline []Stage

// Background reports whether the pipeline should run without blocking
// the caller.
func (p Pipeline) Background() bool {
	return len(p) > 0 && p[len(p)-1].Background
}

// SyntaxError describes a malformed command line. The message matches
// what an interactive user expects to see verbatim.
type SyntaxError struct {
	msg string
}

func (e *SyntaxError) Error() string {
	return e.msg
}

func syntaxErrorf(format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{msg: fmt.Sprintf(format, args...)}
}
