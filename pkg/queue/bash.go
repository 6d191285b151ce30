package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cmdq-dev/cmdq/pkg/exec"
)

// Conditionals are extra shell lines appended to a job's outcome hooks.
// The serial queue uses them to maintain its aggregate counters.
type Conditionals struct {
	OnPass []string
	OnFail []string
	OnSkip []string
}

// jsonFmtPart is one (key, printf format, bash expression) triple of a
// generated single-printf JSON dump.
type jsonFmtPart struct {
	key    string
	format string
	value  string
}

// bashJSONDump generates a printf command that atomically writes a
// one-line JSON file from inside a bash script.
//
// The write is a single `printf ... > file`, so readers either see the
// previous content or the whole new line, never a torn fragment.
func bashJSONDump(parts []jsonFmtPart, fpath string) string {
	bodyParts := make([]string, 0, len(parts))
	argParts := make([]string, 0, len(parts))
	for _, p := range parts {
		bodyParts = append(bodyParts, fmt.Sprintf("%q: %s", p.key, p.format))
		argParts = append(argParts, fmt.Sprintf("%q", p.value))
	}
	body := `'{` + strings.Join(bodyParts, ", ") + `}\n'`
	return "printf " + body + " \\\n    " + strings.Join(argParts, " ") +
		" \\\n    > " + fpath
}

// FinalizeText renders the bash fragment for one job.
//
// With status enabled the fragment ensures the status directory, gates on
// dependency pass markers, writes pre/post JSON status, and dispatches on
// the captured RETURN_CODE. With guards enabled the command runs under
// `set +e -x` and the capture of its exit code is kept out of the xtrace
// output. Both off leaves just the raw command.
func (j *Job) FinalizeText(withStatus, withGuards bool, conds *Conditionals) string {
	var script, prefix, suffix []string

	onPass := []string{
		fmt.Sprintf("mkdir -p %s", filepath.Dir(j.PassPath())),
		fmt.Sprintf("printf \"pass\" > %s", j.PassPath()),
	}
	onFail := []string{
		fmt.Sprintf("mkdir -p %s", filepath.Dir(j.FailPath())),
		fmt.Sprintf("printf \"fail\" > %s", j.FailPath()),
	}
	var onSkip []string
	if conds != nil {
		onPass = append(onPass, conds.OnPass...)
		onFail = append(onFail, conds.OnFail...)
		onSkip = append(onSkip, conds.OnSkip...)
	}

	if withStatus {
		prefix = append(prefix, "# Ensure job status directory")
		prefix = append(prefix, fmt.Sprintf("mkdir -p %s", filepath.Dir(j.StatPath())))
	}

	hadConditions := false
	if withStatus && len(j.Depends) > 0 {
		// Don't allow this job to run if any dependency failed to leave
		// its pass marker.
		var conditions []string
		for _, dep := range j.Depends {
			if dep != nil {
				conditions = append(conditions, fmt.Sprintf("[ -f %s ]", dep.PassPath()))
			}
		}
		if len(conditions) > 0 {
			hadConditions = true
			prefix = append(prefix, fmt.Sprintf("if %s; then", strings.Join(conditions, " && ")))
		}
	}

	if withStatus {
		script = append(script, "# before_command:")
		script = append(script, "# Mark job as running")
		script = append(script, bashJSONDump(j.statusParts("null"), j.StatPath()))
	}

	if withGuards && !j.Bookkeeper {
		if j.Log {
			script = append(script, "set -o pipefail")
		}
		script = append(script, "# Disable exit-on-error, enable command echo")
		script = append(script, "set +e -x")
	}

	if withStatus {
		script = append(script, "# ********")
		script = append(script, "# command:")
	}
	if j.Log && withStatus {
		script = append(script, fmt.Sprintf("(%s) 2>&1 | tee %s", j.Command, j.LogPath()))
	} else {
		script = append(script, j.Command)
	}
	if withStatus {
		script = append(script, "# ********")
		script = append(script, "# after_command:")
	}

	if withGuards {
		// Captures the last return code without the capture itself
		// appearing in the xtrace output, then re-enables exit-on-error
		// so the bookkeeping below is not allowed to fail.
		script = append(script, "# Capture job return code, disable command echo, enable exit-on-error")
		script = append(script, "{ RETURN_CODE=$? ; set +x -e; } 2>/dev/null")
		if j.Log {
			script = append(script, "set +o pipefail")
		}
	} else if withStatus {
		script = append(script, "# Capture job return code")
		script = append(script, "RETURN_CODE=$?")
	}

	if hadConditions {
		suffix = append(suffix, "else")
		if len(onSkip) > 0 {
			suffix = append(suffix, indent(strings.Join(onSkip, "\n")))
		}
		suffix = append(suffix, "    RETURN_CODE=126")
		suffix = append(suffix, "fi")
		if j.AllowIndent {
			script = append(append(prefix, indent(strings.Join(script, "\n"))), suffix...)
		} else {
			script = append(append(prefix, script...), suffix...)
		}
	} else {
		script = append(append(prefix, script...), suffix...)
	}

	if withStatus {
		script = append(script, "# Mark job as stopped")
		script = append(script, bashJSONDump(j.statusParts("$RETURN_CODE"), j.StatPath()))
		script = append(script, strings.Join([]string{
			`if [[ "$RETURN_CODE" == "0" ]]; then`,
			indent(strings.Join(onPass, "\n")),
			"else",
			indent(strings.Join(onFail, "\n")),
			"fi",
		}, "\n"))
	}

	return strings.Join(script, "\n")
}

// statusParts builds the JSON key/format/value triples for this job's
// status file, with ret supplied by the caller (null before the command,
// $RETURN_CODE after).
func (j *Job) statusParts(ret string) []jsonFmtPart {
	parts := []jsonFmtPart{
		{"ret", "%s", ret},
		{"name", `"%s"`, j.Name},
	}
	if j.Log {
		parts = append(parts, jsonFmtPart{"logs", `"%s"`, j.LogPath()})
	}
	return parts
}

// CheckBashSyntax runs `bash -n` against the text and reports syntax
// failures. It is never invoked automatically.
func CheckBashSyntax(execr exec.CommandExecutor, text string) error {
	tmp, err := os.CreateTemp("", "cmdq-syntax-*.sh")
	if err != nil {
		return fmt.Errorf("write syntax check script: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("write syntax check script: %w", err)
	}
	tmp.Close()
	if err := execr.Execute("bash", "-n", tmp.Name()); err != nil {
		return fmt.Errorf("%w: %v", ErrBashSyntax, err)
	}
	return nil
}

// indent prefixes every line of text with four spaces.
func indent(text string) string {
	return "    " + strings.ReplaceAll(text, "\n", "\n    ")
}
