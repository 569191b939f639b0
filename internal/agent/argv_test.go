package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasFlag(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		short string
		long  string
		want  bool
	}{
		{"short", []string{"agent", "-o"}, "-o", "--no-upgrade", true},
		{"long", []string{"agent", "--no-upgrade"}, "-o", "--no-upgrade", true},
		{"absent", []string{"agent", "-c", "x"}, "-o", "--no-upgrade", false},
		{"empty short never matches", []string{"agent", ""}, "", "--service-upgrade", false},
		{"prefix is not a match", []string{"agent", "-oo"}, "-o", "", false},
		{"nil args", nil, "-o", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasFlag(tt.args, tt.short, tt.long))
		})
	}
}

func TestFlagValue(t *testing.T) {
	args := []string{"agent", "-c", "/etc/warden.yaml", "--pidfile", "/run/w.pid", "-l"}

	assert.Equal(t, "/etc/warden.yaml", FlagValue(args, "-c", "--config"))
	assert.Equal(t, "/run/w.pid", FlagValue(args, "-p", "--pidfile"))
	assert.Equal(t, "", FlagValue(args, "-l", "--logfile"))
	assert.Equal(t, "", FlagValue(args, "-e", "--entry"))

	assert.Equal(t, "/tmp/w.yaml", FlagValue([]string{"agent", "--config=/tmp/w.yaml"}, "-c", "--config"))
	assert.Equal(t, "/tmp/j.yaml", FlagValue([]string{"agent", "-c/tmp/j.yaml"}, "-c", "--config"))
	assert.Equal(t, "/tmp/e.yaml", FlagValue([]string{"agent", "-c=/tmp/e.yaml"}, "-c", "--config"))
	assert.Equal(t, "", FlagValue([]string{"agent", "--config"}, "-c", "--config"))
	assert.Equal(t, "", FlagValue(nil, "-c", "--config"))
}
