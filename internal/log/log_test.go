package log

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTag(t *testing.T) {
	assert.Equal(t, "[DEBUG]", Tag(slog.LevelDebug))
	assert.Equal(t, "[INFO]", Tag(slog.LevelInfo))
	assert.Equal(t, "[SUCCESS]", Tag(LevelSuccess))
	assert.Equal(t, "[WARNING]", Tag(slog.LevelWarn))
	assert.Equal(t, "[ERROR]", Tag(slog.LevelError))
}

func TestSetup_ConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "app.log")

	ctx, closeLog, err := Setup(context.Background(), Options{Writer: &console, LogFile: path})
	require.NoError(t, err)

	Info(ctx, "creating VPC", "cidr", "10.0.0.0/16")
	Success(With(ctx, "vpc_id", "vpc-1"), "VPC created")
	Warn(ctx, "security group not found", "name", "sg-nat")
	Debug(ctx, "hidden")
	closeLog()

	out := console.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "creating VPC")
	assert.Contains(t, out, "[SUCCESS]")
	assert.Contains(t, out, "[WARNING]")
	assert.NotContains(t, out, "hidden")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[INFO] creating VPC cidr=10.0.0.0/16")
	assert.Contains(t, lines[1], "[SUCCESS] VPC created vpc_id=vpc-1")
	assert.Contains(t, lines[2], "[WARNING] security group not found name=sg-nat")
}

func TestSetup_DebugEnabled(t *testing.T) {
	var console bytes.Buffer
	ctx, closeLog, err := Setup(context.Background(), Options{Writer: &console, Debug: true})
	require.NoError(t, err)
	defer closeLog()

	Debug(ctx, "polling state")
	assert.Contains(t, console.String(), "polling state")
}

func TestSetup_BadLogFile(t *testing.T) {
	_, _, err := Setup(context.Background(), Options{
		Writer:  &bytes.Buffer{},
		LogFile: filepath.Join(t.TempDir(), "missing-dir", "app.log"),
	})
	require.Error(t, err)
}
