package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Enabled(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewProvider(Options{Enabled: true, ServiceName: "cv-test", Writer: &buf})
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "rag.AnswerQuestion")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "rag.AnswerQuestion")
	assert.Contains(t, buf.String(), "cv-test")
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(Options{})
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "ignored")
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}
