package sink

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/web3tea/cdc-sentinel/capturer"
)

func TestConsoleHandlerRendersStatement(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(WithOutput(&buf), WithColorOutput(false))

	assert.Equal(t, ConsoleHandlerName, h.Name())
	assert.True(t, h.HandleChange(context.Background(), insertEvent(), serviceBinding))

	out := buf.String()
	assert.Contains(t, out, "INSERT Service -> SERVICE")
	assert.Contains(t, out, "INSERT INTO SERVICE(UUID,NAME) VALUES('u1','svc1')")
	assert.Contains(t, out, "svc1")
}

func TestConsoleHandlerReportsBuildErrors(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(WithOutput(&buf), WithColorOutput(false))

	ev := &capturer.ChangeEvent{EntityType: "Service", ChangeType: capturer.Delete}
	assert.False(t, h.HandleChange(context.Background(), ev, serviceBinding))
	assert.Contains(t, buf.String(), ErrUnscoped.Error())
}

func TestConsoleFormatValue(t *testing.T) {
	h := NewConsoleHandler(WithMaxColumnWidth(10))

	assert.Equal(t, "NULL", h.formatValue(nil))
	assert.Equal(t, "0x0102", h.formatValue([]byte{1, 2}))
	assert.Equal(t, "42", h.formatValue(42))
	assert.Equal(t, "abcdefg...", h.formatValue(strings.Repeat("abcdefghij", 3)))
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	RenderTable(&buf, "Bindings", []string{"entity", "table"}, [][]string{{"Service", "SERVICE"}})

	out := buf.String()
	assert.Contains(t, out, "ENTITY")
	assert.Contains(t, out, "Service")
	assert.Contains(t, out, "SERVICE")
}
