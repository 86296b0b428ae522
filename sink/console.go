package sink

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/web3tea/cdc-sentinel/binding"
	"github.com/web3tea/cdc-sentinel/capturer"
)

const ConsoleHandlerName = "console"

// ConsoleHandler renders each event and the statement it would run instead
// of touching a destination. Used for dry runs.
type ConsoleHandler struct {
	out            io.Writer
	colorEnabled   bool
	tableStyle     table.Style
	maxColumnWidth int

	mu sync.Mutex
}

type ConsoleOption func(*ConsoleHandler)

func WithColorOutput(enabled bool) ConsoleOption {
	return func(s *ConsoleHandler) {
		s.colorEnabled = enabled
	}
}

// WithMaxColumnWidth sets the width values are truncated to.
func WithMaxColumnWidth(width int) ConsoleOption {
	return func(s *ConsoleHandler) {
		if width > 3 {
			s.maxColumnWidth = width
		}
	}
}

func WithOutput(w io.Writer) ConsoleOption {
	return func(s *ConsoleHandler) {
		s.out = w
	}
}

func NewConsoleHandler(options ...ConsoleOption) *ConsoleHandler {
	h := &ConsoleHandler{
		out:            os.Stdout,
		colorEnabled:   true,
		tableStyle:     consoleStyle(),
		maxColumnWidth: 80,
	}
	for _, option := range options {
		option(h)
	}
	return h
}

func consoleStyle() table.Style {
	return table.Style{
		Name: "CDC-Custom",
		Box: table.BoxStyle{
			BottomLeft:       "└",
			BottomRight:      "┘",
			BottomSeparator:  "┴",
			Left:             "│",
			LeftSeparator:    "├",
			MiddleHorizontal: "─",
			MiddleSeparator:  "┼",
			MiddleVertical:   "│",
			PaddingLeft:      " ",
			PaddingRight:     " ",
			Right:            "│",
			RightSeparator:   "┤",
			TopLeft:          "┌",
			TopRight:         "┐",
			TopSeparator:     "┬",
			UnfinishedRow:    "...",
		},
		Options: table.Options{
			DrawBorder:      true,
			SeparateColumns: true,
			SeparateHeader:  true,
		},
		Title: table.TitleOptions{
			Align:  text.AlignCenter,
			Colors: text.Colors{text.FgHiWhite, text.Bold},
		},
		Color: table.ColorOptions{
			Header: text.Colors{text.FgHiWhite, text.Bold},
		},
	}
}

func (s *ConsoleHandler) Name() string {
	return ConsoleHandlerName
}

func (s *ConsoleHandler) HandleChange(ctx context.Context, event *capturer.ChangeEvent, b binding.Binding) bool {
	stmt, ok, err := BuildStatement(event, b)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeEventTable(event, b, stmt, ok, err)
	return err == nil
}

func (s *ConsoleHandler) writeEventTable(event *capturer.ChangeEvent, b binding.Binding, stmt Statement, ok bool, err error) {
	opColor := fmt.Sprint
	valueColor := fmt.Sprint
	errColor := fmt.Sprint
	if s.colorEnabled {
		valueColor = color.New(color.FgGreen).SprintFunc()
		errColor = color.New(color.FgRed, color.Bold).SprintFunc()
		switch event.ChangeType {
		case capturer.Insert:
			opColor = color.New(color.FgGreen, color.Bold).SprintFunc()
		case capturer.Update:
			opColor = color.New(color.FgYellow, color.Bold).SprintFunc()
		case capturer.Delete:
			opColor = color.New(color.FgRed, color.Bold).SprintFunc()
		}
	}

	eventTable := table.NewWriter()
	eventTable.SetOutputMirror(s.out)
	eventTable.SetStyle(s.tableStyle)
	eventTable.SetTitle(fmt.Sprintf("%s %s -> %s", event.ChangeType, event.EntityType, b.Table))

	eventTable.AppendRow(table.Row{"Operation", opColor(string(event.ChangeType))})
	eventTable.AppendRow(table.Row{"UUID", event.UUID})
	eventTable.AppendRow(table.Row{"Timestamp", event.Timestamp.Format(time.RFC3339)})
	if event.ResumeToken != "" {
		eventTable.AppendRow(table.Row{"Resume Token", s.truncateString(event.ResumeToken)})
	}

	switch {
	case err != nil:
		eventTable.AppendRow(table.Row{"Error", errColor(err.Error())})
	case ok:
		eventTable.AppendRow(table.Row{"Statement", stmt.String()})
	default:
		eventTable.AppendRow(table.Row{"Statement", "(none)"})
	}

	if len(event.FullDocument) > 0 {
		docTable := table.NewWriter()
		docTable.SetStyle(s.tableStyle)
		docTable.AppendHeader(table.Row{"Field", "Value"})
		for _, k := range getSortedKeys(event.FullDocument) {
			docTable.AppendRow(table.Row{k, valueColor(s.formatValue(event.FullDocument[k]))})
		}
		eventTable.AppendRow(table.Row{"Document", docTable.Render()})
	}

	fmt.Fprintln(s.out)
	eventTable.Render()
}

// formatValue formats a value for display, handling truncation, binary data, and nil values
func (s *ConsoleHandler) formatValue(val any) string {
	if val == nil {
		return "NULL"
	}
	if b, ok := val.([]byte); ok {
		if len(b) == 0 {
			return "[]"
		}
		return s.truncateString("0x" + hex.EncodeToString(b))
	}

	switch reflect.ValueOf(val).Kind() {
	case reflect.Slice, reflect.Map, reflect.Struct, reflect.String:
		return s.truncateString(Stringify(val))
	default:
		return fmt.Sprintf("%v", val)
	}
}

func (s *ConsoleHandler) truncateString(str string) string {
	if len(str) <= s.maxColumnWidth {
		return str
	}
	return str[:s.maxColumnWidth-3] + "..."
}

func getSortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RenderTable writes rows under header using the console style. The CLI uses
// it for listings.
func RenderTable(w io.Writer, title string, header []string, rows [][]string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(consoleStyle())
	if title != "" {
		t.SetTitle(title)
	}

	hr := make(table.Row, len(header))
	for i, h := range header {
		hr[i] = strings.ToUpper(h)
	}
	t.AppendHeader(hr)

	for _, r := range rows {
		row := make(table.Row, len(r))
		for i, c := range r {
			row[i] = c
		}
		t.AppendRow(row)
	}
	t.Render()
}

var _ Handler = (*ConsoleHandler)(nil)
