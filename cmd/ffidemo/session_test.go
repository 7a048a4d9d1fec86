package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-runtime/call"
	ffierrors "github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/internal/simnative"
)

func newTestSession(t *testing.T) *session {
	t.Helper()
	s, err := newSession(context.Background(), simnative.New(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func TestSessionCall(t *testing.T) {
	s := newTestSession(t)
	tests := []struct {
		fn   string
		args []string
		want string
	}{
		{fn: "add", args: []string{"2", "40"}, want: "42"},
		{fn: "greet", args: []string{"42"}, want: "Hello, 42!"},
		{fn: "stats", args: []string{"[1, 2, 6]"}, want: "{count: 3, mean: 3, min: 1, max: 6}"},
		{fn: "apply", args: []string{"mul", "6", "7"}, want: "42"},
		{fn: "apply_async", args: []string{"max", "-3", "9"}, want: "9"},
		{fn: "sleep_add", args: []string{"1", "2", "1"}, want: "3"},
		{fn: "div_async", args: []string{"9", "3"}, want: "3"},
		{fn: simnative.CalculatorNew, args: nil},
	}
	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			fn, err := s.resolve(tt.fn)
			if err != nil {
				t.Fatal(err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			got, err := s.call(ctx, fn, tt.args)
			if err != nil {
				t.Fatalf("call = %v", err)
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("call = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionHashRunsOnQueue(t *testing.T) {
	s := newTestSession(t)
	fn, _ := s.resolve("hash")
	raw, err := s.call(context.Background(), fn, []string{"abc"})
	if err != nil {
		t.Fatal(err)
	}
	same, err := s.call(context.Background(), fn, []string{"[97, 98, 99]"})
	if err != nil || same != raw {
		t.Errorf("hash of byte list = %q, %v; want %q", same, err, raw)
	}
	if !strings.Contains(raw, "(0x") {
		t.Errorf("hash = %q", raw)
	}
}

func TestSessionErrors(t *testing.T) {
	s := newTestSession(t)

	fn, _ := s.resolve("div")
	_, err := s.call(context.Background(), fn, []string{"1", "0"})
	var thrown *call.ThrownError
	if !errors.As(err, &thrown) || thrown.Value != simnative.DivisionByZero {
		t.Errorf("div(1, 0) = %v", err)
	}

	if _, err := s.call(context.Background(), fn, []string{"1"}); err == nil {
		t.Error("missing argument accepted")
	}
	if _, err := s.call(context.Background(), fn, []string{"1", "x"}); !ffierrors.IsValidation(err) {
		t.Errorf("non-numeric argument = %v", err)
	}

	apply, _ := s.resolve("apply")
	if _, err := s.call(context.Background(), apply, []string{"pow", "1", "x"}); err == nil {
		t.Error("unknown op accepted")
	}
	if _, err := s.call(context.Background(), apply, []string{"mul", "1", "x"}); err == nil {
		t.Error("bad operand accepted")
	}
	if n := s.ops.Registry().Len(); n != 0 {
		t.Errorf("%d op bindings leaked", n)
	}

	if _, err := s.resolve("nope"); err == nil {
		t.Error("unknown function resolved")
	}
}

func TestParseArg(t *testing.T) {
	list := &wit.TypeDef{Kind: &wit.List{Type: wit.F64{}}}
	bytes := &wit.TypeDef{Kind: &wit.List{Type: wit.U8{}}}
	tests := []struct {
		t    wit.Type
		raw  string
		want string
	}{
		{t: wit.String{}, raw: "true", want: "true"},
		{t: wit.S64{}, raw: "-5", want: "-5"},
		{t: wit.Bool{}, raw: "true", want: "true"},
		{t: list, raw: "[1.5, 2]", want: "[1.5 2]"},
		{t: bytes, raw: "abc", want: "[97 98 99]"},
		{t: bytes, raw: "[1, 2]", want: "[1 2]"},
	}
	for _, tt := range tests {
		v, err := parseArg(tt.t, tt.raw)
		if err != nil {
			t.Errorf("parseArg(%q) = %v", tt.raw, err)
			continue
		}
		if got := fmt.Sprint(v); got != tt.want {
			t.Errorf("parseArg(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
	if _, err := parseArg(wit.S64{}, "[unclosed"); err == nil {
		t.Error("malformed YAML accepted")
	}
}

func TestInteractiveModel(t *testing.T) {
	s := newTestSession(t)
	m := newInteractiveModel(s, 5*time.Second)

	for i, f := range m.funcs {
		if f.Symbol == simnative.Symbol("add") {
			m.selected = i
		}
	}
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.state != stateInputArgs || len(m.inputs) != 2 || cmd != nil {
		t.Fatalf("state = %v, inputs = %d", m.state, len(m.inputs))
	}
	m.inputs[0].SetValue("20")
	m.inputs[1].SetValue("22")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.state != stateCalling || cmd == nil {
		t.Fatalf("state = %v", m.state)
	}
	m.Update(cmd())
	if m.state != stateShowResult || m.err != nil || m.result != "42" {
		t.Fatalf("result = %q, %v", m.result, m.err)
	}
	if !strings.Contains(m.View(), "42") {
		t.Error("view does not show the result")
	}

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.state != stateSelectFunc {
		t.Errorf("esc left state %v", m.state)
	}
}
