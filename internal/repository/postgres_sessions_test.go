package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"relief-ussd/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockSessionsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresSessionsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewPostgresSessionsRepository(db)
	return db, mock, repo
}

func testSession(id, phoneHash string) *domain.Session {
	now := time.Now().UTC()
	return &domain.Session{
		SessionID:         id,
		PhoneHash:         phoneHash,
		State:             domain.StateRoot,
		LastReplyContinue: true,
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(10 * time.Minute),
	}
}

func TestCreateSession_Success(t *testing.T) {
	db, mock, repo := setupMockSessionsDB(t)
	defer db.Close()

	mock.ExpectBegin()
	// No live session holds this phone.
	mock.ExpectQuery(`SELECT session_id`).WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO sessions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.CreateSession(context.Background(), testSession("sess-1", "phone-a"))
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSession_PhoneAlreadyHasLiveSession(t *testing.T) {
	db, mock, repo := setupMockSessionsDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT session_id`).
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}).AddRow("sess-other"))
	mock.ExpectRollback()

	err := repo.CreateSession(context.Background(), testSession("sess-1", "phone-a"))
	assert.ErrorIs(t, err, ErrPhoneSessionActive)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession_NotFound(t *testing.T) {
	db, mock, repo := setupMockSessionsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("sess-404").
		WillReturnError(sql.ErrNoRows)

	s, err := repo.GetSession(context.Background(), "sess-404")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Nil(t, s)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSession_MissingRowIsNotFound(t *testing.T) {
	db, mock, repo := setupMockSessionsDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE sessions`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateSession(context.Background(), testSession("sess-404", "phone-a"))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpired_ReturnsCount(t *testing.T) {
	db, mock, repo := setupMockSessionsDB(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM sessions`).WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteExpired(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	require.NoError(t, mock.ExpectationsWereMet())
}
