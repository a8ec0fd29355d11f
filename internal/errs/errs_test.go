package errs_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/ragcore-go/internal/errs"
)

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := errs.New(
		errs.CodeStoreDocumentNotFound,
		"document missing",
		errs.FieldDocumentID("doc-1"),
		errs.FieldOwner("alice"),
	)

	require.Error(t, err)
	assert.Equal(t, errs.CodeStoreDocumentNotFound, errs.CodeOf(err))
	assert.True(t, errs.IsNotFound(err))
	assert.True(t, errs.IsDocumentStore(err))

	fields := errs.FieldsOf(err)
	assert.Equal(t, "doc-1", fields["document_id"])
	assert.Equal(t, "alice", fields["owner"])
}

func TestWrapPreservesCause(t *testing.T) {
	root := stderrors.New("connection refused")
	err := errs.Wrap(root, errs.CodeIndexUnavailable, "query points", errs.FieldStage(errs.StageQuery))

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.True(t, errs.IsIndexUnavailable(err))
	assert.Equal(t, errs.StageQuery, errs.StageOf(err))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, errs.Wrap(nil, errs.CodeIndexUnavailable, "noop"))
	assert.NoError(t, errs.With(nil, errs.CodeIndexUnavailable))
}

func TestWithKeepsExistingCode(t *testing.T) {
	inner := errs.New(errs.CodeEmbeddingProviderFailure, "provider down")
	err := errs.With(inner, errs.CodeStoreDatabaseFailure, errs.FieldStage(errs.StageEmbed))

	assert.Equal(t, errs.CodeEmbeddingProviderFailure, errs.CodeOf(err))
	assert.True(t, errs.IsEmbeddingProvider(err))
	assert.Equal(t, errs.StageEmbed, errs.StageOf(err))
}

func TestWithTagsPlainErrors(t *testing.T) {
	err := errs.With(stderrors.New("boom"), errs.CodeStoreDatabaseFailure)
	assert.Equal(t, errs.CodeStoreDatabaseFailure, errs.CodeOf(err))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, errs.Code(""), errs.CodeOf(stderrors.New("plain")))
	assert.Equal(t, errs.Stage(""), errs.StageOf(stderrors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", errs.New(errs.CodeStoreDocumentNotFound, "x"), http.StatusNotFound},
		{"invalid input", errs.New(errs.CodeRequestInvalid, "x"), http.StatusBadRequest},
		{"dimension mismatch", errs.New(errs.CodeIndexDimensionMismatch, "x"), http.StatusBadRequest},
		{"index down", errs.New(errs.CodeIndexUnavailable, "x"), http.StatusServiceUnavailable},
		{"embedding", errs.New(errs.CodeEmbeddingProviderFailure, "x"), http.StatusBadGateway},
		{"generation", errs.New(errs.CodeGenerationFailure, "x"), http.StatusBadGateway},
		{"store", errs.New(errs.CodeStoreDatabaseFailure, "x"), http.StatusInternalServerError},
		{"plain", stderrors.New("x"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errs.HTTPStatus(tc.err))
		})
	}
}
