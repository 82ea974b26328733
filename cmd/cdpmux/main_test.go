package main

import (
	"errors"
	"testing"
)

func TestFormatCobraError(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "mutually exclusive flags",
			in:   "if any flags in the group [props selector] are set none of the others can be; [props selector] were all set",
			want: "--props and --selector cannot be used together",
		},
		{
			name: "exact argument count",
			in:   "accepts 1 arg(s), received 0",
			want: "expected 1 argument, got 0 (see --help)",
		},
		{
			name: "minimum argument count",
			in:   "requires at least 1 arg(s), only received 0",
			want: "expected at least 1 argument, got 0 (see --help)",
		},
		{
			name: "plural argument count",
			in:   "accepts 2 arg(s), received 3",
			want: "expected 2 arguments, got 3 (see --help)",
		},
		{
			name: "unknown command",
			in:   "unknown command \"nope\" for \"cdpmux\"\n\nDid you mean this?\n\tnavigate",
			want: `unknown command "nope", run 'cdpmux --help' for the command list`,
		},
		{
			name: "other errors unchanged",
			in:   "invalid configuration: timeout must be positive",
			want: "invalid configuration: timeout must be positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatCobraError(errors.New(tt.in)); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
