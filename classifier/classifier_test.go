package classifier

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/replywatch/replywatch/store"
)

func TestParseResult(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		r, err := parseResult(`{"classification": "REQUEST", "confidence": 0.92, "reasoning": "asks for an invoice"}`)
		require.NoError(t, err)
		require.Equal(t, store.ClassificationRequest, r.Classification)
		require.InDelta(t, 0.92, r.Confidence, 1e-9)
		require.Equal(t, "asks for an invoice", r.Reasoning)
	})

	t.Run("code fence tolerated", func(t *testing.T) {
		r, err := parseResult("```json\n{\"classification\": \"SPAM\", \"confidence\": 0.7}\n```")
		require.NoError(t, err)
		require.Equal(t, store.ClassificationSpam, r.Classification)
	})

	t.Run("lowercase label normalized", func(t *testing.T) {
		r, err := parseResult(`{"classification": "gratitude", "confidence": 0.5}`)
		require.NoError(t, err)
		require.Equal(t, store.ClassificationGratitude, r.Classification)
	})

	t.Run("unknown label rejected", func(t *testing.T) {
		_, err := parseResult(`{"classification": "QUESTION", "confidence": 0.9}`)
		require.Error(t, err)
	})

	t.Run("confidence out of range rejected", func(t *testing.T) {
		_, err := parseResult(`{"classification": "REQUEST", "confidence": 1.4}`)
		require.Error(t, err)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := parseResult("I think this is a request.")
		require.Error(t, err)
	})
}

func TestErrorUnwrap(t *testing.T) {
	inner := &Error{Op: "parse", Err: errSentinel}
	require.ErrorIs(t, inner, errSentinel)
	require.Contains(t, inner.Error(), "classifier parse")
}

var errSentinel = errCustom("boom")

type errCustom string

func (e errCustom) Error() string { return string(e) }
