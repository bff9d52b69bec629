package logger

import "testing"

func TestNew_LevelsAndFormats(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}},
		{name: "debug console", cfg: Config{Level: "debug", Format: "console"}},
		{name: "warn json", cfg: Config{Level: "WARN", Format: "json"}},
		{name: "bad level", cfg: Config{Level: "loud"}, wantErr: true},
		{name: "bad format", cfg: Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("New(%+v) error = nil, want error", tt.cfg)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%+v) error = %v", tt.cfg, err)
			}
			log.Named("test").With(String("k", "v")).Debug("ok", Int("n", 1))
		})
	}
}
