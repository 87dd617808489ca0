package continuum

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "basic",
			err:  &Error{Op: "System.Store", Kind: KindNotFound, Err: ErrUnknownLevel},
			want: "continuum: System.Store (not_found): unknown memory level",
		},
		{
			name: "with context",
			err:  &Error{Op: "System.Store", Kind: KindNotFound, Err: ErrUnknownLevel, Context: map[string]any{"level": "x"}},
			want: "continuum: System.Store (not_found): unknown memory level [context: map[level:x]]",
		},
		{
			name: "no cause",
			err:  &Error{Op: "continuum.New", Kind: KindInternal},
			want: "continuum: continuum.New: internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", unknownLevel("System.Retrieve", "x"))

	assert.True(t, errors.Is(err, ErrUnknownLevel))
	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.True(t, errors.Is(err, &Error{Op: "System.Retrieve", Kind: KindNotFound}))
	assert.False(t, errors.Is(err, &Error{Op: "System.Store", Kind: KindNotFound}))
	assert.False(t, errors.Is(err, &Error{Kind: KindValidation}))
	assert.False(t, errors.Is(err, ErrInvalidWeights))
}

func TestErrorWithContextCopies(t *testing.T) {
	base := &Error{Op: "op", Kind: KindInternal, Context: map[string]any{"a": 1}}
	derived := base.WithContext(map[string]any{"b": 2})

	assert.Len(t, base.Context, 1)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, derived.Context)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindValidation, classify("op", ErrDimensionMismatch).Kind)
	assert.Equal(t, KindValidation, classify("op", ErrInvalidWeights).Kind)
	assert.Equal(t, KindValidation, classify("op", fmt.Errorf("wrap: %w", ErrNonFiniteEmbedding)).Kind)
	assert.Equal(t, KindConfiguration, classify("op", ErrInvalidConfig).Kind)
	assert.Equal(t, KindNotFound, classify("op", ErrUnknownLevel).Kind)
	assert.Equal(t, KindInternal, classify("op", errors.New("boom")).Kind)
}

type mockCloser struct {
	err   error
	calls int
}

func (m *mockCloser) Close() error {
	m.calls++
	return m.err
}

func TestCloseWithLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	closeWithLog(nil, logger, "nothing")
	assert.Empty(t, buf.String())

	ok := &mockCloser{}
	closeWithLog(ok, logger, "kv store")
	assert.Equal(t, 1, ok.calls)
	assert.Empty(t, buf.String())

	failing := &mockCloser{err: errors.New("busy")}
	closeWithLog(failing, logger, "vector store")
	require.Equal(t, 1, failing.calls)
	assert.Contains(t, buf.String(), "failed to close resource")
	assert.Contains(t, buf.String(), "vector store")
}
