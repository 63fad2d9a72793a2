package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		class  FailureClass
	}{
		{http.StatusForbidden, FailureBlocking},
		{http.StatusProxyAuthRequired, FailureBlocking},
		{http.StatusTooManyRequests, FailureRateLimit},
		{http.StatusBadGateway, FailureNetwork},
		{http.StatusNotFound, FailureNetwork},
	}
	for _, tc := range cases {
		err := ClassifyStatus("https://shop.example/x", tc.status)
		require.Error(t, err, "status %d", tc.status)
		require.Equal(t, tc.class, Classify(err), "status %d", tc.status)
	}
	require.NoError(t, ClassifyStatus("https://shop.example/x", http.StatusOK))
}

func TestClassifyWrappedErrors(t *testing.T) {
	err := fmt.Errorf("handler: %w", &ParsingError{URL: "u", Reason: "bad payload"})
	require.Equal(t, FailureParsing, Classify(err))
	require.False(t, Classify(err).Retryable())

	err = fmt.Errorf("handler: %w", &BlockingError{URL: "u", StatusCode: 403})
	require.Equal(t, FailureBlocking, Classify(err))
	require.True(t, Classify(err).Retryable())
	require.Equal(t, SeverityCritical, Classify(err).Severity())
}

func TestClassifyFetchErrorPreservesCancellation(t *testing.T) {
	err := ClassifyFetchError("u", errors.New("connection reset"))
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	require.True(t, Classify(err).Retryable())
}
