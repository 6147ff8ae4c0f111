package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_Markdown(t *testing.T) {
	got, err := Extract("Kickoff notes.md", []byte("\xef\xbb\xbf# Kickoff\n\nShip it.\n"))
	require.NoError(t, err)
	assert.Equal(t, "Kickoff notes", got.Title)
	assert.Equal(t, "markdown", got.Format)
	assert.Equal(t, "# Kickoff\n\nShip it.", got.Text)
}

func TestExtract_PlainText(t *testing.T) {
	got, err := Extract("memo.txt", []byte("  call the vendor  "))
	require.NoError(t, err)
	assert.Equal(t, "memo", got.Title)
	assert.Equal(t, "text", got.Format)
	assert.Equal(t, "call the vendor", got.Text)
}

func TestExtract_SniffsTextWithoutExtension(t *testing.T) {
	got, err := Extract("README", []byte("plain words only"))
	require.NoError(t, err)
	assert.Equal(t, "text", got.Format)
}

// onePagePDF builds a single-page PDF showing each line with Helvetica.
func onePagePDF(lines ...string) []byte {
	var content bytes.Buffer
	for i, l := range lines {
		fmt.Fprintf(&content, "BT /F1 12 Tf 72 %d Td (%s) Tj ET\n", 720-20*i, l)
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestExtract_PDF(t *testing.T) {
	got, err := Extract("Roadmap review.pdf", onePagePDF("Quarterly roadmap review", "Ship the recorder"))
	require.NoError(t, err)
	assert.Equal(t, "Roadmap review", got.Title)
	assert.Equal(t, "pdf", got.Format)
	assert.Contains(t, got.Text, "Quarterly roadmap review")
	assert.Contains(t, got.Text, "Ship the recorder")
}

func TestExtract_PDFSniffedWithoutExtension(t *testing.T) {
	got, err := Extract("scan", onePagePDF("Kickoff notes"))
	require.NoError(t, err)
	assert.Equal(t, "pdf", got.Format)
	assert.Equal(t, "Kickoff notes", got.Text)
}

func TestExtract_PDFWithoutText(t *testing.T) {
	_, err := Extract("blank.pdf", onePagePDF())
	assert.True(t, errors.Is(err, ErrEmpty))
}

func TestExtract_Rejections(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

	_, err := Extract("image.png", png)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = Extract("bad.txt", []byte{0xff, 0xfe, 0xfd})
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = Extract("empty.md", []byte("   \n"))
	assert.True(t, errors.Is(err, ErrEmpty))

	_, err = Extract("huge.txt", make([]byte, MaxImportSize+1))
	assert.True(t, errors.Is(err, ErrTooLarge))

	_, err = Extract("broken.pdf", []byte("%PDF-1.4 not really"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}
