package main

import (
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"default", "default"},
		{"exactly-nineteen-ch", "exactly-nineteen-ch"},
		{"alsa_input.usb-mic-analog", "alsa_input.usb-mic…"},
		{"Mikrofon (Logitech Büro 920)", "Mikrofon (Logitech…"},
		{"ダイナミックマイク・ヘッドセット・USB接続タイプ", "ダイナミックマイク・ヘッドセット・U…"},
	}
	for _, tt := range tests {
		got := truncate(tt.in, 19)
		if got != tt.want {
			t.Errorf("truncate(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q) produced invalid UTF-8", tt.in)
		}
		if n := utf8.RuneCountInString(got); n > 19 {
			t.Errorf("truncate(%q) has %d runes", tt.in, n)
		}
	}
}
