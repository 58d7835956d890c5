package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host", "https://ITviec.COM/it-jobs", "https://itviec.com/it-jobs"},
		{"strips default https port", "https://itviec.com:443/it-jobs", "https://itviec.com/it-jobs"},
		{"strips default http port", "http://itviec.com:80/it-jobs", "http://itviec.com/it-jobs"},
		{"drops fragment", "https://itviec.com/it-jobs#top", "https://itviec.com/it-jobs"},
		{"sorts query params", "https://itviec.com/it-jobs?query=go&page=2", "https://itviec.com/it-jobs?page=2&query=go"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("/it-jobs?page=2")
	require.Error(t, err)
}

func TestFingerprintURLEquivalentSpellings(t *testing.T) {
	t.Parallel()

	a, err := FingerprintURL("https://ITviec.com:443/it-jobs?b=2&a=1#frag")
	require.NoError(t, err)
	b, err := FingerprintURL("https://itviec.com/it-jobs?a=1&b=2")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestFingerprintListingBusinessKey(t *testing.T) {
	t.Parallel()

	base := JobListing{Title: "Go Engineer", Company: "Acme", CanonicalLink: "https://acme.example/jobs/1"}
	same := JobListing{Title: "  go engineer ", Company: "ACME", CanonicalLink: "https://acme.example/jobs/1", Location: "Hanoi"}
	other := JobListing{Title: "Go Engineer", Company: "Other Co", CanonicalLink: "https://acme.example/jobs/1"}

	require.Equal(t, FingerprintListing(base), FingerprintListing(same))
	require.NotEqual(t, FingerprintListing(base), FingerprintListing(other))
}

func TestFingerprintNamespacesDiffer(t *testing.T) {
	t.Parallel()

	u, err := FingerprintURL("https://itviec.com/it-jobs")
	require.NoError(t, err)
	c := FingerprintListing(JobListing{Title: "x", Company: "y", CanonicalLink: "z"})
	require.NotEqual(t, u, c)
}
