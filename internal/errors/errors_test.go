package errors

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_PreservesChain(t *testing.T) {
	t.Parallel()

	sentinel := NewStd("bucket not found")
	err := Newf("open %q: %w", "diitku-v1", sentinel).
		Component("cachestorage").
		Category(CategoryNotFound).
		Context("bucket", "diitku-v1").
		Build()

	require.Error(t, err)
	assert.True(t, Is(err, sentinel))
	assert.Equal(t, CategoryNotFound, CategoryOf(err))
	assert.Equal(t, "cachestorage", ComponentOf(err))
	assert.Equal(t, `open "diitku-v1": bucket not found`, err.Error())

	var ee *EnhancedError
	require.True(t, As(err, &ee))
	assert.Equal(t, "diitku-v1", ee.GetContext()["bucket"])
}

func TestNew_WrapsExisting(t *testing.T) {
	t.Parallel()

	err := New(io.ErrUnexpectedEOF).Category(CategoryNetwork).Build()
	assert.True(t, Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, CategoryNetwork, CategoryOf(err))
}

func TestCategoryOf_PlainError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, CategoryGeneric, CategoryOf(io.EOF))
	assert.Empty(t, ComponentOf(io.EOF))
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	err := Newf("fetch failed").Component("network").Context("url", "https://x").Build()
	assert.Equal(t, "network: fetch failed url=https://x", Describe(err))
	assert.Equal(t, "EOF", Describe(io.EOF))
}
