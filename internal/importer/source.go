package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// ItemSource yields import items by absolute position, so a resumed job can
// re-open its source and continue from an arbitrary offset.
type ItemSource interface {
	// Items returns up to limit items starting at offset. Fewer items
	// than limit means the source is exhausted; it is not an error.
	Items(ctx context.Context, offset, limit int) ([]domain.ImportItem, error)
}

// SourceResolver maps a job to its item source.
type SourceResolver interface {
	Resolve(ctx context.Context, job *domain.ImportJob) (ItemSource, error)
}

// ErrEmptyFile is returned when an import file has no header row.
var ErrEmptyFile = errors.New("import file is empty")

// emailHeaderAliases maps recognized CSV column names onto item fields.
var (
	emailHeaderAliases     = map[string]bool{"email": true, "email_address": true, "emailaddress": true, "e-mail": true}
	firstNameHeaderAliases = map[string]bool{"first_name": true, "firstname": true, "first": true, "fname": true}
	lastNameHeaderAliases  = map[string]bool{"last_name": true, "lastname": true, "last": true, "lname": true}
)

// CSVSource reads import items from a headered CSV file. The file is
// re-opened and re-scanned on every Items call; chunked jobs trade a little
// repeated I/O for not holding file handles across invocations.
type CSVSource struct {
	path string
}

// NewCSVSource returns a source for the CSV file at path.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

func (s *CSVSource) Items(ctx context.Context, offset, limit int) ([]domain.ImportItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	emailCol, firstCol, lastCol := mapColumns(header)
	if emailCol < 0 {
		return nil, fmt.Errorf("no email column in header %v", header)
	}

	// Skip rows already consumed by earlier chunks.
	for i := 0; i < offset; i++ {
		if _, err := r.Read(); err == io.EOF {
			return nil, nil
		} else if err != nil {
			return nil, fmt.Errorf("skip row %d: %w", i, err)
		}
	}

	items := make([]domain.ImportItem, 0, limit)
	for len(items) < limit {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil && !isParseError(err) {
			return items, fmt.Errorf("read row: %w", err)
		}
		if err != nil {
			// A malformed row still occupies a position; surface it as
			// an item that will fail validation rather than shifting
			// every later offset.
			items = append(items, domain.ImportItem{})
			continue
		}
		items = append(items, rowToItem(row, header, emailCol, firstCol, lastCol))
	}
	return items, nil
}

// mapColumns locates the email and name columns by header alias.
func mapColumns(header []string) (email, first, last int) {
	email, first, last = -1, -1, -1
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		switch {
		case emailHeaderAliases[key] && email < 0:
			email = i
		case firstNameHeaderAliases[key] && first < 0:
			first = i
		case lastNameHeaderAliases[key] && last < 0:
			last = i
		}
	}
	return email, first, last
}

func rowToItem(row, header []string, emailCol, firstCol, lastCol int) domain.ImportItem {
	cell := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	item := domain.ImportItem{
		Email:     cell(emailCol),
		FirstName: cell(firstCol),
		LastName:  cell(lastCol),
	}
	// Unmapped columns ride along as custom fields keyed by header name.
	for i, h := range header {
		if i == emailCol || i == firstCol || i == lastCol || i >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[i])
		if v == "" {
			continue
		}
		if item.Fields == nil {
			item.Fields = make(map[string]string)
		}
		item.Fields[strings.ToLower(strings.TrimSpace(h))] = v
	}
	return item
}

// CountCSVItems counts the data rows of a headered CSV file, for computing
// an import job's totalItems at creation.
func CountCSVItems(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()
	return countItems(f)
}

func countItems(src io.Reader) (int, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	if _, err := r.Read(); err == io.EOF {
		return 0, ErrEmptyFile
	} else if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	n := 0
	for {
		_, err := r.Read()
		if err == io.EOF {
			return n, nil
		}
		// Malformed rows still count as positions, matching Items.
		// A reader failure, unlike a parse failure, is sticky and
		// aborts the count.
		if err != nil && !isParseError(err) {
			return 0, fmt.Errorf("read row %d: %w", n+1, err)
		}
		n++
	}
}

func isParseError(err error) bool {
	var parseErr *csv.ParseError
	return errors.As(err, &parseErr)
}

// DirSource resolves each job's source to a CSV file named by the job's
// FileName under a fixed upload directory.
type DirSource struct {
	dir string
}

// NewDirSource returns a resolver rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (d *DirSource) Resolve(_ context.Context, job *domain.ImportJob) (ItemSource, error) {
	name := filepath.Base(job.FileName)
	if name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid import file name %q", job.FileName)
	}
	return NewCSVSource(filepath.Join(d.dir, name)), nil
}

// SliceSource serves items from memory. Used in tests and for imports whose
// payload arrived inline with the submission.
type SliceSource []domain.ImportItem

func (s SliceSource) Items(_ context.Context, offset, limit int) ([]domain.ImportItem, error) {
	if offset >= len(s) || limit <= 0 {
		return nil, nil
	}
	end := offset + limit
	if end > len(s) {
		end = len(s)
	}
	out := make([]domain.ImportItem, end-offset)
	copy(out, s[offset:end])
	return out, nil
}

// StaticResolver resolves every job to the same source.
type StaticResolver struct {
	Source ItemSource
}

func (r StaticResolver) Resolve(context.Context, *domain.ImportJob) (ItemSource, error) {
	return r.Source, nil
}
