package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyStatuses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   Outcome
	}{
		{200, OutcomeSuccess},
		{301, OutcomeSuccess},
		{403, OutcomeBlocked},
		{429, OutcomeBlocked},
		{404, OutcomePermanent},
		{410, OutcomePermanent},
		{500, OutcomeTransient},
		{503, OutcomeTransient},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			t.Parallel()
			got := Classify(FetchResponse{StatusCode: tc.status, Body: []byte("<html>ok</html>")}, nil)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyErrors(t *testing.T) {
	t.Parallel()

	require.Equal(t, OutcomeTimeout, Classify(FetchResponse{}, context.DeadlineExceeded))
	require.Equal(t, OutcomeTimeout, Classify(FetchResponse{}, timeoutErr{}))
	require.Equal(t, OutcomeTransient, Classify(FetchResponse{}, errors.New("connection reset by peer")))
	require.Equal(t, OutcomePermanent, Classify(FetchResponse{}, ErrRobotsDisallowed))
	require.Equal(t, OutcomeTimeout, Classify(FetchResponse{}, fmt.Errorf("fetch: %w", context.DeadlineExceeded)))
}

func TestClassifyCaptchaPage(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><div class="g-recaptcha" data-sitekey="x"></div></html>`)
	require.Equal(t, OutcomeBlocked, Classify(FetchResponse{StatusCode: 200, Body: body}, nil))
}

func TestClassifyLargeBodySkipsChallengeScan(t *testing.T) {
	t.Parallel()

	big := make([]byte, 100*1024)
	copy(big, []byte("g-recaptcha"))
	require.Equal(t, OutcomeSuccess, Classify(FetchResponse{StatusCode: 200, Body: big}, nil))
}
