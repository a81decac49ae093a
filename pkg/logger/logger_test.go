package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niiniyare/abacgate/pkg/shared"
)

func newBufferedLogger(t *testing.T, typ LoggerType, buf *bytes.Buffer) Logger {
	t.Helper()
	lg, err := (&LoggerFactory{}).NewLogger(Config{
		Type:        typ,
		Level:       DebugLevel,
		Output:      buf,
		Format:      "json",
		ServiceName: "abacgate",
		Version:     "test",
	})
	require.NoError(t, err)
	return lg
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, InfoLevel, ParseLogLevel("nonsense"), "unknown levels fall back to info")
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	_, err := (&LoggerFactory{}).NewLogger(Config{Type: "syslog"})
	assert.Error(t, err)
}

func TestZerologEmitsDecisionFields(t *testing.T) {
	var buf bytes.Buffer
	lg := newBufferedLogger(t, ZerologLogger, &buf)

	lg.Info("authorize decision", DecisionFields("Balloon:Inflate", true, true, "g-1"))
	require.NoError(t, lg.Close())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Balloon:Inflate", line["action"])
	assert.Equal(t, true, line["authorized"])
	assert.Equal(t, "g-1", line["grant_uuid"])
	assert.Equal(t, "abacgate", line["service"])
}

func TestContextMethodsCarryCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	lg := newBufferedLogger(t, SlogLogger, &buf)

	id := uuid.New()
	ctx := shared.WithCorrelationID(context.Background(), id)
	lg.InfoContext(ctx, "grant enacted", GrantFields("g-2", "lockdown", "deny"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, id.String(), line["correlation_id"])
	assert.Equal(t, "lockdown", line["grant_name"])
}

func TestCorrelationFieldsAbsent(t *testing.T) {
	assert.Nil(t, CorrelationFields(context.Background()))
}

func TestFieldsWithCorrelationIDDoesNotMutateReceiver(t *testing.T) {
	base := LatchFields("l-1", true)
	derived := base.WithCorrelationID("abc")

	_, inBase := base["correlation_id"]
	assert.False(t, inBase)
	assert.Equal(t, "abc", derived["correlation_id"])
}
