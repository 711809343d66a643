package ticket

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTicket() Ticket {
	return Ticket{
		ID:          "ticket-1",
		ChallengeID: "challenge-1",
		Title:       "Caesar",
		URL:         "https://gym.example.com/challenges/caesar",
		Topic:       "Cryptography",
		Module:      "Classical Ciphers",
		Category:    "crypto",
		Content:     "# Walkthrough\n\nUse `openssl` to shift the alphabet.",
		Validated:   true,
		Iterations:  2,
		FinalizedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestPostgresSink_WriteInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewPostgresSinkWithPool(mock, "tickets")
	require.NoError(t, err)

	tk := sampleTicket()
	mock.ExpectExec("INSERT INTO tickets").
		WithArgs(
			tk.ID,
			tk.ChallengeID,
			tk.Title,
			tk.URL,
			tk.Topic,
			tk.Module,
			tk.Category,
			tk.Content,
			tk.Validated,
			tk.Iterations,
			tk.FinalizedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ref, err := sink.Write(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, "postgres://tickets/ticket-1", ref)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_WriteFailureIsTransient(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewPostgresSinkWithPool(mock, "tickets")
	require.NoError(t, err)

	tk := sampleTicket()
	mock.ExpectExec("INSERT INTO tickets").
		WillReturnError(errors.New("connection reset"))

	_, err = sink.Write(context.Background(), tk)
	assert.ErrorIs(t, err, ErrIO)
}

func TestPostgresSink_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresSinkWithPool(nil, "tickets")
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresSinkWithPool(mock, "tickets; drop table")
	assert.Error(t, err)

	sink, err := NewPostgresSinkWithPool(mock, "")
	require.NoError(t, err)
	_, err = sink.Write(context.Background(), Ticket{})
	assert.Error(t, err)
}
