package storage

import (
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"cat.png", "cat.png"},
		{"My cat.png", "My_cat.png"},
		{"  spaced   out .txt ", "spaced_out_.txt"},
		{"../../etc/passwd", "etc_passwd"},
		{`..\..\windows\system32\drivers.txt`, "windows_system32_drivers.txt"},
		{"/absolute/path/report.pdf", "absolute_path_report.pdf"},
		{"café.txt", "cafe.txt"},
		{"ｆｕｌｌｗｉｄｔｈ.mp3", "fullwidth.mp3"},
		{"日本語.zip", "zip"},
		{"i contain cool ümläuts.txt", "i_contain_cool_umlauts.txt"},
		{"rm -rf *;echo.txt", "rm_-rf_echo.txt"},
		{".hidden", "hidden"},
		{"__init__.py", "init__.py"},
		{"CON.txt", "_CON.txt"},
		{"lpt1", "_lpt1"},
		{"console.txt", "console.txt"},
		{"..", ""},
		{"", ""},
		{"/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := SanitizeName(tt.raw)
			if got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSanitizeName_NeverEscapes(t *testing.T) {
	inputs := []string{
		"../secret", "..", "../../..", "/etc/shadow", `C:\boot.ini`, "a/../../b",
		"....//....//x", "\x00../x", "./.", "%2e%2e%2fx", "..%c0%afx",
	}
	for _, raw := range inputs {
		got := SanitizeName(raw)
		if got == "" {
			continue
		}
		if err := ValidateName(got); err != nil {
			t.Errorf("SanitizeName(%q) = %q fails validation: %v", raw, got, err)
		}
		if strings.HasPrefix(got, ".") {
			t.Errorf("SanitizeName(%q) = %q starts with a dot", raw, got)
		}
	}
}
