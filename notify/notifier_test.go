package notify

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solreap/solreap/telemetry"
)

func TestLogNotifierMapsSeverityToLevel(t *testing.T) {
	tests := []struct {
		severity  Severity
		wantLevel string
	}{
		{SeverityInfo, "info"},
		{SeverityWarning, "warn"},
		{SeverityCritical, "error"},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			var buf bytes.Buffer
			logger := &telemetry.Logger{Logger: zerolog.New(&buf)}

			err := NewLogNotifier(logger).Notify(context.Background(), Event{
				Severity: tt.severity,
				Title:    "store unreachable",
				Body:     "cycle aborted",
			})
			require.NoError(t, err)

			out := buf.String()
			assert.Contains(t, out, `"level":"`+tt.wantLevel+`"`)
			assert.Contains(t, out, "store unreachable")
			assert.Contains(t, out, "cycle aborted")
		})
	}
}
