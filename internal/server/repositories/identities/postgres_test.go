package identities

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const insertQ = `(?s)^INSERT\s+INTO\s+identities\s*\(contact_id,\s*handle,\s*guid,\s*server_url,\s*public_key,\s*encrypted_private_key\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6\)\s*RETURNING\s+id,\s*created_at$`

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(insertQ).
		WithArgs(int64(3), "g-1", "g-1", "https://a.example/", "PEM", []byte("sealed")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), now))

	got, err := repo.Create(context.Background(), &models.Identity{
		ContactID: 3, Handle: "g-1", GUID: "g-1", ServerURL: "https://a.example/", PublicKey: "PEM", EncryptedPrivateKey: []byte("sealed"),
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.ID != 1 || !got.CreatedAt.Equal(now) {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestCreate_Errors(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(insertQ).WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectQuery(insertQ).WillReturnError(errors.New("db down"))

	if _, err := repo.Create(context.Background(), &models.Identity{}); !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	_, err := repo.Create(context.Background(), &models.Identity{})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestSetHandle(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+identities\s+SET\s+handle\s*=\s*\$2\s+WHERE\s+id\s*=\s*\$1$`
	mock.ExpectExec(q).WithArgs(int64(1), "1@a.example").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(int64(9), "9@a.example").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.SetHandle(context.Background(), 1, "1@a.example"); err != nil {
		t.Fatalf("SetHandle error: %v", err)
	}
	if err := repo.SetHandle(context.Background(), 9, "9@a.example"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestGetByGUID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*contact_id,\s*handle,.*FROM\s+identities\s+WHERE\s+guid\s*=\s*\$1$`
	now := time.Now()
	mock.ExpectQuery(q).WithArgs("g-1").WillReturnRows(
		sqlmock.NewRows([]string{"id", "contact_id", "handle", "guid", "server_url", "public_key", "encrypted_private_key", "created_at"}).
			AddRow(int64(1), int64(3), "3@a.example", "g-1", "https://a.example/", "PEM", []byte("sealed"), now))
	mock.ExpectQuery(q).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	got, err := repo.GetByGUID(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("GetByGUID error: %v", err)
	}
	if got.Handle != "3@a.example" || got.ContactID != 3 || string(got.EncryptedPrivateKey) != "sealed" {
		t.Fatalf("unexpected identity: %+v", got)
	}

	if _, err := repo.GetByGUID(context.Background(), "missing"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestCount(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+COUNT\(\*\)\s+FROM\s+identities$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))

	n, err := repo.Count(context.Background())
	if err != nil || n != 5 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}
