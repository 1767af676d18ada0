package user

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resqzone/server/internal/geo"
)

func TestRepositoryListPositioned(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE latitude IS NOT NULL AND longitude IS NOT NULL")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "latitude", "longitude"}).
			AddRow(int64(1), 51.5, -0.12).
			AddRow(int64(4), 48.85, 2.35))

	located, err := NewRepository(db).ListPositioned(context.Background())
	require.NoError(t, err)
	require.Len(t, located, 2)
	assert.Equal(t, int64(4), located[1].ID)
	assert.Equal(t, geo.Point{Latitude: 48.85, Longitude: 2.35}, *located[1].Position)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByIDWithoutPosition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "phone", "postal_code", "role", "latitude", "longitude", "created_at", "updated_at"}).
			AddRow(int64(2), "Ada", nil, "E1 6AN", "volunteer", nil, nil, now, now))

	u, err := NewRepository(db).GetByID(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, RoleVolunteer, u.Role)
	assert.Nil(t, u.Position)
	assert.Nil(t, u.Phone)
	require.NotNil(t, u.PostalCode)
	assert.Equal(t, "E1 6AN", *u.PostalCode)
}

func TestRepositoryUpdateLocation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SET latitude = $2, longitude = $3")).
		WithArgs(int64(9), 51.5, -0.12).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	u, err := NewRepository(db).UpdateLocation(context.Background(), 9, geo.Point{Latitude: 51.5, Longitude: -0.12})
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.NoError(t, mock.ExpectationsWereMet())
}
