package model

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agenttree/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Model = (*MockModel)(nil)

func TestMockModelServesScriptFIFO(t *testing.T) {
	m := NewMockModel("test")
	m.EnqueueToolCall("echo", `{"text":"first"}`)
	m.EnqueueError(errors.New("transient"))

	resp, err := m.Generate(context.Background(), Request{})
	require.NoError(t, err)
	calls := resp.Content.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "echo", calls[0].Name)
	assert.Equal(t, `{"text":"first"}`, calls[0].Arguments)

	_, err = m.Generate(context.Background(), Request{})
	assert.EqualError(t, err, "transient")
	assert.Equal(t, 2, m.Calls())
}

func TestMockModelFallbackEchoesLastUserMessage(t *testing.T) {
	m := NewMockModel("test")

	resp, err := m.Generate(context.Background(), Request{
		Contents: []core.Content{core.NewUserContent("hello")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: hello", resp.Content.Text())
}

func TestMockModelHonorsCancellation(t *testing.T) {
	m := NewMockModel("test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestErrorWrapping(t *testing.T) {
	underlying := errors.New("connection refused")
	err := NewError("openai", "chat completion failed", underlying)

	assert.ErrorIs(t, err, underlying)
	assert.Contains(t, err.Error(), "openai")
	assert.Contains(t, err.Error(), "chat completion failed")
}
