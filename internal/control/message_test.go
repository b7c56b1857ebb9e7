package control_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxtrigger/internal/control"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		token   string
		want    control.Message
		wantErr error
	}{
		{name: "pause", raw: "CTRL:PAUSE", want: control.Message{Kind: control.KindPause}},
		{name: "resume with newline", raw: "CTRL:RESUME\n", want: control.Message{Kind: control.KindResume}},
		{name: "trigger", raw: "TRIGGER:say hello", want: control.Message{Kind: control.KindTrigger, Arg: "say hello"}},
		{name: "command", raw: "CMD:echo hi  \r\n", want: control.Message{Kind: control.KindCommand, Arg: "echo hi"}},
		{name: "token", raw: "s3cret:CTRL:PAUSE", token: "s3cret", want: control.Message{Kind: control.KindPause}},
		{name: "token with colon in arg", raw: "s3cret:CMD:a:b", token: "s3cret", want: control.Message{Kind: control.KindCommand, Arg: "a:b"}},

		{name: "missing token", raw: "CTRL:PAUSE", token: "s3cret", wantErr: control.ErrUnauthorized},
		{name: "wrong token", raw: "guess:CTRL:PAUSE", token: "s3cret", wantErr: control.ErrUnauthorized},
		{name: "token prefix only", raw: "s3cretCTRL:PAUSE", token: "s3cret", wantErr: control.ErrUnauthorized},
		{name: "lower case prefix", raw: "ctrl:pause", wantErr: control.ErrMalformed},
		{name: "unknown ctrl", raw: "CTRL:REBOOT", wantErr: control.ErrMalformed},
		{name: "empty trigger", raw: "TRIGGER:   ", wantErr: control.ErrMalformed},
		{name: "empty command", raw: "CMD:", wantErr: control.ErrMalformed},
		{name: "garbage", raw: "hello there", wantErr: control.ErrMalformed},
		{name: "empty", raw: "", wantErr: control.ErrMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := control.Parse([]byte(tc.raw), tc.token)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestMessage_Encode(t *testing.T) {
	msgs := []control.Message{
		{Kind: control.KindPause},
		{Kind: control.KindResume},
		{Kind: control.KindTrigger, Arg: "open browser"},
		{Kind: control.KindCommand, Arg: "ls -l"},
	}
	for _, m := range msgs {
		got, err := control.Parse(m.Encode("tok"), "tok")
		if err != nil {
			t.Fatalf("Parse(Encode(%+v)): %v", m, err)
		}
		if got != m {
			t.Errorf("round trip %+v -> %+v", m, got)
		}
	}
	if got := string(control.Message{Kind: control.KindTrigger, Arg: "say hello"}.Encode("")); got != "TRIGGER:say hello" {
		t.Errorf("Encode = %q", got)
	}
}

func TestRunState(t *testing.T) {
	s := control.NewRunState(false)
	if s.Paused() || s.AllowRemoteCommands() {
		t.Fatalf("initial snapshot = %+v", s.Snapshot())
	}
	if !s.SetPaused(true) {
		t.Error("SetPaused(true) reported no change")
	}
	if s.SetPaused(true) {
		t.Error("repeated SetPaused(true) reported a change")
	}
	s.SetAllowRemoteCommands(true)
	if got := s.Snapshot(); !got.Paused || !got.AllowRemoteCommands {
		t.Errorf("snapshot = %+v", got)
	}
}
