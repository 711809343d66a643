package ticket

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSSink_Write(t *testing.T) {
	base := t.TempDir()
	sink, err := NewFSSink(base)
	require.NoError(t, err)

	tk := sampleTicket()
	ref, err := sink.Write(context.Background(), tk)
	require.NoError(t, err)

	wantPath := filepath.Join(base, "crypto", "caesar.md")
	assert.Equal(t, "file://"+wantPath, ref)

	content, err := os.ReadFile(wantPath) // #nosec G304 -- controlled temp dir
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "title: Caesar")
	assert.Contains(t, text, "module: Classical Ciphers")
	assert.Contains(t, text, "validated: true")
	assert.Contains(t, text, "# Walkthrough")
	assert.NotContains(t, text, "exhausted its review budget")
}

func TestFSSink_UnvalidatedNotice(t *testing.T) {
	sink, err := NewFSSink(t.TempDir())
	require.NoError(t, err)

	tk := sampleTicket()
	tk.Validated = false
	ref, err := sink.Write(context.Background(), tk)
	require.NoError(t, err)

	content, err := os.ReadFile(strings.TrimPrefix(ref, "file://")) // #nosec G304
	require.NoError(t, err)
	assert.Contains(t, string(content), "exhausted its review budget")
}

func TestFSSink_EmptyCategory(t *testing.T) {
	base := t.TempDir()
	sink, err := NewFSSink(base)
	require.NoError(t, err)

	tk := sampleTicket()
	tk.Category = ""
	ref, err := sink.Write(context.Background(), tk)
	require.NoError(t, err)
	assert.Contains(t, ref, filepath.Join(base, "uncategorized"))
}

func TestWriteWithRetry(t *testing.T) {
	t.Run("RetriesTransientOnce", func(t *testing.T) {
		sink := &flakySink{failures: 1}
		ref, err := WriteWithRetry(context.Background(), sink, sampleTicket())
		require.NoError(t, err)
		assert.Equal(t, "mem://ticket-1", ref)
		assert.Equal(t, 2, sink.calls)
	})

	t.Run("GivesUpAfterSecondFailure", func(t *testing.T) {
		sink := &flakySink{failures: 2}
		_, err := WriteWithRetry(context.Background(), sink, sampleTicket())
		assert.ErrorIs(t, err, ErrIO)
		assert.Equal(t, 2, sink.calls)
	})

	t.Run("DoesNotRetryPermanentErrors", func(t *testing.T) {
		sink := &flakySink{failures: 1, permanent: true}
		_, err := WriteWithRetry(context.Background(), sink, sampleTicket())
		require.Error(t, err)
		assert.Equal(t, 1, sink.calls)
	})
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "caesar", Slug("Caesar"))
	assert.Equal(t, "hidden-bits-2", Slug("Hidden Bits #2"))
	assert.Equal(t, "untitled", Slug("!!!"))
}

type flakySink struct {
	failures  int
	permanent bool
	calls     int
}

func (s *flakySink) Write(_ context.Context, t Ticket) (string, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		if s.permanent {
			return "", errors.New("bad ticket")
		}
		return "", ErrIO
	}
	return "mem://" + t.ID, nil
}

func (s *flakySink) Close() {}
