package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"den/pkg/config"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "den dev\n", out.String())
}

func TestRecordRejectsInvalidConfig(t *testing.T) {
	t.Setenv("DEN_ACCESS_TOKEN", "")

	var stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"record", "nest"})

	assert.Equal(t, 1, execute(cmd))
	assert.Contains(t, stderr.String(), "Error: invalid configuration")
	assert.Contains(t, stderr.String(), "DEN_ACCESS_TOKEN is required")
	assert.Equal(t, 1, strings.Count(stderr.String(), "DEN_ACCESS_TOKEN is required"))
}

func TestExecuteReportsUsageErrors(t *testing.T) {
	tests := map[string]struct {
		args []string
		want string
	}{
		"unknown flag":    {[]string{"record", "--bogus"}, "unknown flag: --bogus"},
		"extra args":      {[]string{"record", "a", "b"}, "accepts at most 1 arg(s), received 2"},
		"unknown command": {[]string{"replay"}, `unknown command "replay"`},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var stderr bytes.Buffer
			cmd := newRootCmd()
			cmd.SetErr(&stderr)
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetArgs(tt.args)

			assert.Equal(t, 1, execute(cmd))
			assert.Contains(t, stderr.String(), "Error: ")
			assert.Contains(t, stderr.String(), tt.want)
		})
	}
}

func TestExecuteSucceeds(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"version"})

	assert.Equal(t, 0, execute(cmd))
	assert.Empty(t, stderr.String())
}

func TestApplyFlags(t *testing.T) {
	cmd := newRecordCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--port", "8087", "--ssl", "--token", "c.abc", "--read-timeout", "90s", "--sinks", "influxdb,mqtt",
		"--precision", "ms",
	}))

	cfg := &config.Config{InfluxPort: 8086, ConnectTimeout: 7 * time.Second, LogLevel: "info"}
	var flags recordFlags
	flags.port, _ = cmd.Flags().GetInt("port")
	flags.ssl, _ = cmd.Flags().GetBool("ssl")
	flags.token, _ = cmd.Flags().GetString("token")
	flags.readTimeout, _ = cmd.Flags().GetDuration("read-timeout")
	flags.sinks, _ = cmd.Flags().GetStringSlice("sinks")
	flags.precision, _ = cmd.Flags().GetString("precision")

	applyFlags(cmd, cfg, &flags, []string{"nest"})

	assert.Equal(t, "nest", cfg.InfluxDatabase)
	assert.Equal(t, 8087, cfg.InfluxPort)
	assert.True(t, cfg.InfluxSSL)
	assert.Equal(t, "c.abc", cfg.AccessToken)
	assert.Equal(t, 90*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 7*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"influxdb", "mqtt"}, cfg.Sinks)
	assert.Equal(t, "ms", cfg.Precision)
}
