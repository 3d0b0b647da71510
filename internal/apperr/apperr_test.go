package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_Retryable(t *testing.T) {
	retryable := []Kind{KindTransientNetwork, KindRateLimit, KindTransientStorage, KindUnknown}
	for _, k := range retryable {
		assert.True(t, k.Retryable(), "%s should be retryable", k)
	}
	nonRetryable := []Kind{KindValidation, KindExhaustedRetries}
	for _, k := range nonRetryable {
		assert.False(t, k.Retryable(), "%s should not be retryable", k)
	}
}

func TestError_ErrorString(t *testing.T) {
	e := New(KindTransientNetwork, errors.New("connection reset"))
	assert.Equal(t, "TransientNetworkError: connection reset", e.Error())

	bare := &Error{Kind: KindUnknown}
	assert.Equal(t, "UnknownError", bare.Error())
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	e := New(KindRateLimit, inner)
	assert.ErrorIs(t, e, inner)
}

func TestValidation(t *testing.T) {
	e := Validation("missing field")
	assert.Equal(t, KindValidation, e.Kind)
	assert.EqualError(t, e.Err, "missing field")
}

func TestDefaultClassifier_RecognizesWrappedKind(t *testing.T) {
	e := New(KindTransientStorage, errors.New("pool exhausted"))
	assert.Equal(t, KindTransientStorage, DefaultClassifier.Classify(e))
}

func TestDefaultClassifier_FallsBackToUnknown(t *testing.T) {
	assert.Equal(t, KindUnknown, DefaultClassifier.Classify(errors.New("some foreign error")))
}

func TestClassifierFunc(t *testing.T) {
	fn := ClassifierFunc(func(err error) Kind { return KindRateLimit })
	assert.Equal(t, KindRateLimit, fn.Classify(errors.New("anything")))
}
