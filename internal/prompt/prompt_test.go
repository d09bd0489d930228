package prompt

import (
	"errors"
	"testing"
)

func TestTerminalYesSkipsConfirm(t *testing.T) {
	p := &Terminal{Yes: true}
	ok, err := p.Confirm("Remove 3 containers?")
	if err != nil || !ok {
		t.Errorf("Confirm = %v, %v", ok, err)
	}
}

func TestTerminalNotInteractive(t *testing.T) {
	p := &Terminal{}
	if _, err := p.Confirm("Proceed?"); !errors.Is(err, ErrNotInteractive) {
		t.Errorf("Confirm err = %v", err)
	}
	if _, err := p.Select("Pick", []Option{{Label: "a", Value: "a"}}); !errors.Is(err, ErrNotInteractive) {
		t.Errorf("Select err = %v", err)
	}
	if _, err := p.Select("Pick", nil); err == nil {
		t.Error("empty Select should fail")
	}
}

func TestScripted(t *testing.T) {
	s := &Scripted{Confirms: []bool{true, false}, Selects: []string{"b"}}
	if ok, _ := s.Confirm("one"); !ok {
		t.Error("first confirm")
	}
	if ok, _ := s.Confirm("two"); ok {
		t.Error("second confirm")
	}
	if _, err := s.Confirm("three"); err == nil {
		t.Error("exhausted script should fail")
	}
	if v, _ := s.Select("pick", nil); v != "b" {
		t.Errorf("Select = %q", v)
	}
	if len(s.Asked) != 4 {
		t.Errorf("Asked = %v", s.Asked)
	}
}
