// Package msg prints colored diagnostics for the lume CLI.
package msg

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// stdout is shared by concurrent module builds
var mu sync.Mutex

func Error(format string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Print(color.HiRedString("error"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

func Warn(format string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Print(color.YellowString("warn"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

func Fatal(format string, a ...any) {
	mu.Lock()
	fmt.Print(color.RedString("fatal"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
	mu.Unlock()
	os.Exit(1)
}

func Info(format string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Print(color.HiGreenString("info"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

// Module prints a line attributed to one module of the build, so interleaved
// output from concurrent module builds stays readable.
func Module(name, format string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Printf("%s %s\n", color.HiCyanString("["+name+"]"), fmt.Sprintf(format, a...))
}

// IndentWriter indents every line written through it. Toolchain process
// output is routed through one of these so compiler noise nests under the
// module's own lines.
type IndentWriter struct {
	Indent    string
	W         io.Writer
	didIndent bool
}

func (w *IndentWriter) Write(p []byte) (n int, err error) {
	var buf bytes.Buffer
	for _, c := range p {
		if !w.didIndent {
			buf.WriteString(w.Indent)
			w.didIndent = true
		}
		buf.WriteByte(c)
		if c == '\n' || c == '\r' {
			w.didIndent = false
		}
	}
	if _, err := w.W.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}
