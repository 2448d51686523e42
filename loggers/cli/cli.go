package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	color2 "github.com/fatih/color"
	"github.com/mattn/go-colorable"
)

// Default is the handler used for interactive console output.
var Default = New(os.Stderr, true)

var bold = color2.New(color2.Bold)

var Strings = [...]string{
	log.DebugLevel: "DEBUG",
	log.InfoLevel:  " INFO",
	log.WarnLevel:  " WARN",
	log.ErrorLevel: "ERROR",
	log.FatalLevel: "FATAL",
}

var Colors = [...]*color2.Color{
	log.DebugLevel: color2.New(color2.FgWhite),
	log.InfoLevel:  color2.New(color2.FgBlue),
	log.WarnLevel:  color2.New(color2.FgYellow),
	log.ErrorLevel: color2.New(color2.FgRed),
	log.FatalLevel: color2.New(color2.FgRed),
}

// Handler renders apex/log entries for humans at a terminal.
type Handler struct {
	mu     sync.Mutex
	Writer io.Writer
}

// New returns a Handler writing to w, wrapping it for color support when it
// is a terminal file descriptor.
func New(w io.Writer, useColors bool) *Handler {
	if f, ok := w.(*os.File); ok {
		if useColors {
			return &Handler{Writer: colorable.NewColorable(f)}
		}
		return &Handler{Writer: colorable.NewNonColorable(f)}
	}
	return &Handler{Writer: colorable.NewNonColorable(w)}
}

type tracer interface {
	StackTrace() errors.StackTrace
}

// HandleLog implements log.Handler.
func (h *Handler) HandleLog(e *log.Entry) error {
	color := Colors[e.Level]
	level := Strings[e.Level]

	h.mu.Lock()
	defer h.mu.Unlock()

	_, _ = color.Fprintf(h.Writer, "%s: [%s] %s", bold.Sprintf("%s", level), time.Now().Format(time.RFC3339), e.Message)

	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		if name == "error" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(h.Writer, " %s=%v", color.Sprint(name), e.Fields.Get(name))
	}
	_, _ = fmt.Fprintln(h.Writer)

	if err, ok := e.Fields.Get("error").(error); ok {
		// Dig out the deepest recorded stack trace, the same way the daemon
		// log file formatter does.
		var st tracer
		if errors.As(err, &st) {
			_, _ = fmt.Fprintf(h.Writer, "\n%s%+v\n\n", color2.RedString("Stacktrace:"), st.StackTrace())
		} else {
			_, _ = fmt.Fprintf(h.Writer, "\n%s\n%v\n\n", color2.RedString("Error:"), err)
		}
	}
	return nil
}
