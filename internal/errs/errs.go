// Package errs attaches machine-readable codes and structured fields to
// errors raised by the retrieval core. Codes follow a dotted
// "area.subject.reason" layout; the final segment drives the Is* helpers and
// the HTTP status mapping used by the server.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeEmbeddingProviderFailure Code = "embedding.provider.failure"
	CodeEmbeddingResponseInvalid Code = "embedding.response.malformed"
	CodeIndexUnavailable         Code = "index.upstream.unavailable"
	CodeIndexDimensionMismatch   Code = "index.vector.invalid_input"
	CodeStoreDatabaseFailure     Code = "store.database.failure"
	CodeStoreDocumentNotFound    Code = "store.document.not_found"
	CodeCacheBackendFailure      Code = "cache.backend.failure"
	CodeGenerationFailure        Code = "generation.upstream.failure"
	CodeRequestInvalid           Code = "request.invalid_input"
)

// Stage names the step of a pipeline that produced an error.
type Stage string

const (
	StagePersist Stage = "persist"
	StageEmbed   Stage = "embed"
	StageIndex   Stage = "index"
	StageQuery   Stage = "query"
	StageFetch   Stage = "fetch"
	StageDelete  Stage = "delete"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

// FieldDocumentID tags an error with the document it concerns.
func FieldDocumentID(id string) Attr { return Field("document_id", id) }

// FieldOwner tags an error with the owning user.
func FieldOwner(owner string) Attr { return Field("owner", owner) }

// FieldStage tags an error with the pipeline stage that failed.
func FieldStage(stage Stage) Attr { return Field("stage", string(stage)) }

// New creates an error carrying code and the given fields.
func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(string(code)).With(flatten(fields)...).New(msg)
}

// Errorf creates an error carrying code with a formatted message.
func Errorf(code Code, format string, args ...any) error {
	return oops.Code(string(code)).Errorf(format, args...)
}

// Wrap annotates err with code, msg and fields. A nil err stays nil.
func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(string(code)).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

// With adds structured fields to an existing error chain, keeping its code.
// Errors without a code are tagged with fallback.
func With(err error, fallback Code, fields ...Attr) error {
	if err == nil {
		return nil
	}
	code := CodeOf(err)
	if code == "" {
		code = fallback
	}
	return oops.Code(string(code)).With(flatten(fields)...).Wrap(err)
}

// CodeOf returns the code carried by err, or "" if it has none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch c := oopsErr.Code().(type) {
	case Code:
		return c
	case string:
		return Code(c)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", c))
	}
}

// FieldsOf returns the structured context attached anywhere in err's chain.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

// StageOf reports which pipeline stage failed, or "" when unknown.
func StageOf(err error) Stage {
	if v, ok := FieldsOf(err)["stage"].(string); ok {
		return Stage(v)
	}
	return ""
}

// HasCode reports whether err carries exactly code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsEmbeddingProvider is true for any embedding.* code.
func IsEmbeddingProvider(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "embedding.")
}

// IsIndexUnavailable is true when the vector index could not be reached.
func IsIndexUnavailable(err error) bool {
	return HasCode(err, CodeIndexUnavailable)
}

// IsDocumentStore is true for any store.* code.
func IsDocumentStore(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "store.")
}

// IsNotFound is true for codes whose reason is not_found.
func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

// IsInvalidInput is true for codes whose reason is invalid or invalid_input.
func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input"
}

// IsUpstream is true for failures of an external provider.
func IsUpstream(err error) bool {
	code := string(CodeOf(err))
	return strings.Contains(code, "upstream") || strings.HasPrefix(code, "embedding.")
}

// HTTPStatus maps an error to the status code the server responds with.
func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsIndexUnavailable(err):
		return http.StatusServiceUnavailable
	case IsUpstream(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Join combines errs keeping the first code found.
func Join(fallback Code, errList ...error) error {
	joined := errors.Join(errList...)
	if joined == nil {
		return nil
	}
	for _, e := range errList {
		if c := CodeOf(e); c != "" {
			fallback = c
			break
		}
	}
	return oops.Code(string(fallback)).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
