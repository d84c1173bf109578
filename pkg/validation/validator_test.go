package validation

import (
	"strings"
	"testing"
)

type listenConfig struct {
	Address string `validate:"required,hostname_port"`
	Level   string `validate:"omitempty,oneof=debug info warn error"`
	Workers int    `validate:"gte=1"`
	Ops     string `validate:"omitempty,listen_addr"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name    string
		input   listenConfig
		wantErr []string
	}{
		{
			name:  "valid",
			input: listenConfig{Address: "127.0.0.1:8080", Level: "info", Workers: 2},
		},
		{
			name:    "missing address",
			input:   listenConfig{Workers: 1},
			wantErr: []string{"listenConfig.Address: field is required"},
		},
		{
			name:    "bad level and workers",
			input:   listenConfig{Address: ":8080", Level: "trace"},
			wantErr: []string{"listenConfig.Level: must be one of [debug info warn error]", "listenConfig.Workers: must be at least 1"},
		},
		{
			name:  "listen on a free port",
			input: listenConfig{Address: "127.0.0.1:8080", Workers: 1, Ops: "127.0.0.1:0"},
		},
		{
			name:    "bad listen address",
			input:   listenConfig{Address: "127.0.0.1:8080", Workers: 1, Ops: "127.0.0.1:http"},
			wantErr: []string{"listenConfig.Ops: validation failed (listen_addr)"},
		},
		{
			name:    "not a host port",
			input:   listenConfig{Address: "localhost", Workers: 1},
			wantErr: []string{"listenConfig.Address: validation failed (hostname_port)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.input)
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Expected %q in %q", want, err.Error())
				}
			}
		})
	}
}

func TestPropertyName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "x", false},
		{"dotted", "search.index.version", false},
		{"unicode", "größe", false},
		{"empty", "", true},
		{"space", "my prop", true},
		{"newline", "a\nb", true},
		{"too long", strings.Repeat("a", MaxPropertyName+1), true},
		{"max length", strings.Repeat("a", MaxPropertyName), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := PropertyName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("PropertyName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
