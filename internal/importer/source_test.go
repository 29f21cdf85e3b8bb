package importer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contacts.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const sampleCSV = `email,first_name,last_name,company
alice@example.com,Alice,Anderson,Acme
bob@example.com,Bob,Brown,Globex
carol@example.com,Carol,Clark,Initech
dave@example.com,Dave,Davis,Umbrella
`

func TestCSVSourceReadsItems(t *testing.T) {
	src := NewCSVSource(writeCSV(t, sampleCSV))

	items, err := src.Items(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, "alice@example.com", items[0].Email)
	assert.Equal(t, "Alice", items[0].FirstName)
	assert.Equal(t, "Anderson", items[0].LastName)
	assert.Equal(t, "Acme", items[0].Fields["company"])
}

func TestCSVSourceOffsetAndLimit(t *testing.T) {
	src := NewCSVSource(writeCSV(t, sampleCSV))
	ctx := context.Background()

	items, err := src.Items(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "bob@example.com", items[0].Email)
	assert.Equal(t, "carol@example.com", items[1].Email)

	// Offset past the end is exhaustion, not an error.
	items, err = src.Items(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCSVSourceHeaderAliases(t *testing.T) {
	src := NewCSVSource(writeCSV(t, "Email_Address,FirstName\nzed@example.com,Zed\n"))

	items, err := src.Items(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "zed@example.com", items[0].Email)
	assert.Equal(t, "Zed", items[0].FirstName)
}

func TestCSVSourceMissingEmailColumn(t *testing.T) {
	src := NewCSVSource(writeCSV(t, "name,phone\nAlice,555-0100\n"))

	_, err := src.Items(context.Background(), 0, 1)
	assert.Error(t, err)
}

func TestCSVSourceEmptyFile(t *testing.T) {
	src := NewCSVSource(writeCSV(t, ""))

	_, err := src.Items(context.Background(), 0, 1)
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestCountCSVItems(t *testing.T) {
	n, err := CountCSVItems(writeCSV(t, sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

// failingReader serves its buffer, then fails instead of reporting EOF,
// the way a mid-file I/O error surfaces through bufio.
type failingReader struct {
	data io.Reader
}

func (r *failingReader) Read(p []byte) (int, error) {
	n, err := r.data.Read(p)
	if err == io.EOF {
		return n, errors.New("read: input/output error")
	}
	return n, err
}

func TestCountItemsAbortsOnReaderFailure(t *testing.T) {
	src := &failingReader{data: strings.NewReader(sampleCSV)}

	_, err := countItems(src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input/output error")
}

func TestDirSourceResolvesByFileName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "list.csv"), []byte("email\nx@example.com\n"), 0644))

	resolver := NewDirSource(dir)
	src, err := resolver.Resolve(context.Background(), &domain.ImportJob{FileName: "list.csv"})
	require.NoError(t, err)

	items, err := src.Items(context.Background(), 0, 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "x@example.com", items[0].Email)
}

func TestDirSourceStripsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "safe.csv"), []byte("email\nx@example.com\n"), 0644))

	resolver := NewDirSource(dir)
	src, err := resolver.Resolve(context.Background(), &domain.ImportJob{FileName: "../../etc/safe.csv"})
	require.NoError(t, err)

	// Only the base name is honored; the file resolves inside the dir.
	_, err = src.Items(context.Background(), 0, 1)
	require.NoError(t, err)
}

func TestSliceSourceBounds(t *testing.T) {
	src := testItems(5)
	ctx := context.Background()

	items, err := src.Items(ctx, 3, 10)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = src.Items(ctx, 5, 1)
	require.NoError(t, err)
	assert.Empty(t, items)
}
