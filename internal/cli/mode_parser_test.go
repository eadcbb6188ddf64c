package cli

import (
	"bytes"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		name     string
		args     []string
		wantMode string
		wantRest []string
	}{
		{"flag form", []string{"--mode=tracking-service", "--port=3002"}, ModeTrack, []string{"--port=3002"}},
		{"alias", []string{"--mode=notify"}, ModeNotify, nil},
		{"subcommand", []string{"token", "--role=customer"}, ModeToken, []string{"--role=customer"}},
		{"no mode", []string{"--port=1"}, "", []string{"--port=1"}},
		{"only first bare word is a mode", []string{"track", "notify"}, ModeTrack, []string{"notify"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mode, rest, err := ParseMode(tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.wantMode, mode)
			assert.Equal(t, tc.wantRest, rest)
		})
	}
}

func TestParseModeRejectsUnknown(t *testing.T) {
	_, _, err := ParseMode([]string{"--mode=billing"})
	assert.Error(t, err)
}

func TestUsageOutput(t *testing.T) {
	var buf bytes.Buffer
	PrintUsage(&buf)
	assert.Contains(t, buf.String(), "tracking-service")
	assert.Contains(t, buf.String(), "issue-token")

	buf.Reset()
	fs := flag.NewFlagSet(ModeTrack, flag.ContinueOnError)
	fs.SetOutput(&buf)
	fs.Int("port", 3002, "HTTP port")
	AttachUsage(fs, ModeTrack)
	fs.Usage()
	assert.Contains(t, buf.String(), "--mode=tracking-service")
	assert.Contains(t, buf.String(), "-port")
}
