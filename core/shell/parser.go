package shell

import (
	"strings"
)

// Operator tokens. They're only meaningful as standalone
// whitespace-delimited words; "a>b" is a single argument.
const (
	tokPipe       = "|"
	tokInput      = "<"
	tokOutput     = ">"
	tokBackground = "&"
)

// Parse turns one trimmed, non-empty command line into a Pipeline.
//
// The grammar is deliberately small: words separated by runs of spaces
// and tabs, stages separated by '|', with '<', '>' and a trailing '&'
// recognized as standalone tokens. There is no quoting, escaping or
// expansion of any kind.
//
// On error the returned Pipeline is always nil and the error is a
// *SyntaxError whose message names the offending token or rule.
func Parse(line string) (Pipeline, error) {
	// Split stage boundaries first. Checks happen in reading order so a
	// bad token early on the line wins over a violation later.
	var segments []string
	for _, segment := range strings.Split(line, tokPipe) {
		if segment == "" {
			// Leading, trailing or doubled pipe.
			return nil, syntaxErrorf("syntax error near unexpected token '%s'", tokPipe)
		}
		if len(segments) >= MaxPipe {
			return nil, syntaxErrorf("too many pipeline segments (max %d)", MaxPipe)
		}
		segments = append(segments, segment)
	}

	pipeline := make(Pipeline, 0, len(segments))
	for i, segment := range segments {
		stage, err := parseStage(segment, i == len(segments)-1, len(segments) > 1)
		if err != nil {
			return nil, err
		}
		pipeline = append(pipeline, stage)
	}

	// Redirections interior to a pipeline would either starve a stage of
	// its upstream data or swallow it before the downstream stage runs.
	if len(pipeline) > 1 {
		for i, stage := range pipeline {
			if i != 0 && stage.Input != "" {
				return nil, syntaxErrorf("input redirection not allowed for command %d in pipeline", i+1)
			}
			if i != len(pipeline)-1 && stage.Output != "" {
				return nil, syntaxErrorf("output redirection not allowed for command %d in pipeline", i+1)
			}
		}
	}

	return pipeline, nil
}

// parseStage tokenizes one pipe-separated segment.
func parseStage(segment string, lastSegment, inPipeline bool) (Stage, error) {
	// Fields collapses runs of whitespace, so empty tokens from
	// consecutive separators never appear.
	fields := strings.Fields(segment)
	if len(fields) == 0 {
		if inPipeline {
			return Stage{}, syntaxErrorf("missing command in pipeline")
		}
		return Stage{}, syntaxErrorf("missing command")
	}

	var stage Stage
scan:
	for i := 0; i < len(fields); i++ {
		switch tok := fields[i]; tok {
		case tokInput:
			i++
			if i >= len(fields) {
				return Stage{}, syntaxErrorf("syntax error near unexpected token '%s'", tokInput)
			}
			if stage.Input != "" {
				return Stage{}, syntaxErrorf("cannot redirect input more than once")
			}
			stage.Input = fields[i]

		case tokOutput:
			i++
			if i >= len(fields) {
				return Stage{}, syntaxErrorf("syntax error near unexpected token '%s'", tokOutput)
			}
			if stage.Output != "" {
				return Stage{}, syntaxErrorf("cannot redirect output more than once")
			}
			stage.Output = fields[i]

		case tokBackground:
			if !lastSegment {
				return Stage{}, syntaxErrorf("'%s' can only appear at end of command", tokBackground)
			}
			if i != len(fields)-1 {
				return Stage{}, syntaxErrorf("syntax error near unexpected token '%s'", tokBackground)
			}
			stage.Background = true
			break scan

		default:
			if len(stage.Args) >= MaxArgs-1 {
				return Stage{}, syntaxErrorf("too many arguments (max %d)", MaxArgs-1)
			}
			stage.Args = append(stage.Args, tok)
		}
	}

	if len(stage.Args) == 0 {
		// Only redirections or '&' in the segment.
		return Stage{}, syntaxErrorf("missing command")
	}

	return stage, nil
}
