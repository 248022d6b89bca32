package retriever

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/ledongthuc/pdf"
)

// maxFileBytes bounds what is read from the object store for one file.
const maxFileBytes = 32 << 20

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".json": true, ".html": true, ".htm": true, ".xml": true, ".log": true,
}

type ObjectGetter interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// SessionFileRetriever loads one attached session file as a single document.
type SessionFileRetriever struct {
	objects ObjectGetter
	bucket  string
}

func NewSessionFileRetriever(objects ObjectGetter, bucket string) *SessionFileRetriever {
	return &SessionFileRetriever{objects: objects, bucket: bucket}
}

// Load reads and parses the file. maxChars of 0 disables the size check.
func (r *SessionFileRetriever) Load(ctx context.Context, userID, sessionID, name string, maxChars int) (*Document, error) {
	ext := strings.ToLower(path.Ext(name))
	if !Supported(ext) {
		return nil, domain.E(domain.KindUnsupportedFileType, nil, "unsupported file type %q", ext)
	}

	key := domain.SessionFileKey(userID, sessionID, name)
	body, err := r.objects.Get(ctx, r.bucket, key)
	if err != nil {
		if errors.Is(err, cloud.ErrObjectNotFound) {
			return nil, domain.NotFoundf("session file %s not found", name)
		}
		return nil, domain.Upstream(err, "failed to load session file")
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, maxFileBytes+1))
	if err != nil {
		return nil, domain.Upstream(err, "failed to read session file")
	}
	if len(raw) > maxFileBytes {
		return nil, domain.E(domain.KindFileTooBig, nil, "file %s is too big", name)
	}

	text, err := Parse(ext, raw)
	if err != nil {
		return nil, err
	}
	if maxChars > 0 && len([]rune(text)) > maxChars {
		return nil, domain.E(domain.KindFileTooBig, nil, "file %s exceeds the model input limit", name)
	}

	return &Document{
		Text: text,
		Metadata: domain.RetrievedDocument{
			Location: key,
			FileName: name,
		},
	}, nil
}

// Supported reports whether files with ext can be parsed.
func Supported(ext string) bool {
	return ext == ".csv" || ext == ".tsv" || ext == ".pdf" || textExtensions[ext]
}

// Parse extracts plain text from a file body by extension.
func Parse(ext string, raw []byte) (string, error) {
	switch {
	case ext == ".csv" || ext == ".tsv":
		return parseDelimited(raw)
	case ext == ".pdf":
		return parsePDF(raw)
	case textExtensions[ext]:
		return string(raw), nil
	}
	return "", domain.E(domain.KindUnsupportedFileType, nil, "unsupported file type %q", ext)
}

// SniffDelimiter picks the candidate delimiter that splits the sample's
// lines into the most consistent number of fields.
func SniffDelimiter(sample string) rune {
	lines := strings.Split(strings.ReplaceAll(sample, "\r\n", "\n"), "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}

	best, bestScore := ',', 0
	for _, d := range []rune{',', '\t', ';', '|'} {
		counts := make(map[int]int)
		for _, line := range lines {
			if line == "" {
				continue
			}
			if n := strings.Count(line, string(d)); n > 0 {
				counts[n]++
			}
		}
		for _, freq := range counts {
			if freq > bestScore {
				best, bestScore = d, freq
			}
		}
	}
	return best
}

func parseDelimited(raw []byte) (string, error) {
	sample := raw
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = SniffDelimiter(string(sample))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return "", domain.E(domain.KindInvalidInput, err, "failed to parse delimited file")
	}
	if len(records) == 0 {
		return "", nil
	}

	header := records[0]
	var sb strings.Builder
	for _, rec := range records[1:] {
		for i, v := range rec {
			if i > 0 {
				sb.WriteString(", ")
			}
			if i < len(header) {
				sb.WriteString(header[i])
				sb.WriteString(": ")
			}
			sb.WriteString(v)
		}
		sb.WriteString("\n")
	}
	if len(records) == 1 {
		sb.WriteString(strings.Join(header, ", "))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func parsePDF(raw []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", domain.E(domain.KindInvalidInput, err, "failed to open pdf")
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", domain.E(domain.KindInvalidInput, err, "failed to read pdf page %d", i)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// Format renders retrieved documents for the prompt context slot.
func Format(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Text)
	}
	return out
}

// Strip returns document metadata without page text.
func Strip(docs []Document) []domain.RetrievedDocument {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.RetrievedDocument, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Metadata)
	}
	return out
}

