package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

func TestWriteUpsertsListing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "job_listings")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	listing := pipeline.JobListing{
		Title:         "Senior Golang Engineer",
		CanonicalLink: "https://itviec.com/it-jobs/senior-golang-engineer-1234",
		Company:       "Acme Corp",
		Location:      "Ho Chi Minh",
		PostedDate:    "Posted 2 hours ago",
		Salary:        "$2,000 - $3,500",
		LogoURL:       "https://itviec.com/assets/logos/acme.png",
		Skills:        []string{"Go", "Kubernetes"},
		SourceSite:    "itviec",
		FetchedAt:     now,
	}

	mock.ExpectExec("INSERT INTO job_listings").
		WithArgs(
			string(pipeline.FingerprintListing(listing)),
			listing.Title,
			listing.CanonicalLink,
			listing.Company,
			listing.Location,
			listing.PostedDate,
			listing.Salary,
			listing.LogoURL,
			"Go;Kubernetes",
			"itviec",
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Write(context.Background(), listing))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "job_listings")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "drop table; --")
	require.Error(t, err)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "job_listings", store.table)
}
