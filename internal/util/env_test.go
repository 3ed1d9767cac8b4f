package util

import (
	"os"
	"testing"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		want         bool
	}{
		{name: "unset uses default true", value: "", defaultValue: true, want: true},
		{name: "unset uses default false", value: "", defaultValue: false, want: false},
		{name: "true", value: "true", defaultValue: false, want: true},
		{name: "TRUE", value: "TRUE", defaultValue: false, want: true},
		{name: "1", value: "1", defaultValue: false, want: true},
		{name: "yes", value: "yes", defaultValue: false, want: true},
		{name: "on", value: "on", defaultValue: false, want: true},
		{name: "false", value: "false", defaultValue: true, want: false},
		{name: "0", value: "0", defaultValue: true, want: false},
		{name: "no", value: "no", defaultValue: true, want: false},
		{name: "off", value: "off", defaultValue: true, want: false},
		{name: "padded value", value: "  true  ", defaultValue: false, want: true},
		{name: "invalid uses default", value: "maybe", defaultValue: true, want: true},
	}

	const key = "REACTPIPE_TEST_BOOL"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, tt.value)
				defer os.Unsetenv(key)
			}
			if got := ParseBoolEnv(key, tt.defaultValue); got != tt.want {
				t.Errorf("ParseBoolEnv(%q=%q, %v) = %v, want %v", key, tt.value, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue int
		want         int
	}{
		{name: "unset uses default", value: "", defaultValue: 7, want: 7},
		{name: "positive", value: "3", defaultValue: 1, want: 3},
		{name: "zero", value: "0", defaultValue: 1, want: 0},
		{name: "negative", value: "-2", defaultValue: 1, want: -2},
		{name: "padded value", value: " 42 ", defaultValue: 1, want: 42},
		{name: "invalid uses default", value: "soon", defaultValue: 5, want: 5},
		{name: "float uses default", value: "1.5", defaultValue: 5, want: 5},
	}

	const key = "REACTPIPE_TEST_INT"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, tt.value)
				defer os.Unsetenv(key)
			}
			if got := ParseIntEnv(key, tt.defaultValue); got != tt.want {
				t.Errorf("ParseIntEnv(%q=%q, %d) = %d, want %d", key, tt.value, tt.defaultValue, got, tt.want)
			}
		})
	}
}
