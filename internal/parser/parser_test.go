package parser

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestParseText(t *testing.T) {
	path := writeFile(t, t.TempDir(), "invoice.txt", "  Faktura VAT 1/2024\nRazem: 123,45 zł\n\n")

	text, err := ParseToText(path)
	require.NoError(t, err)
	assert.Equal(t, "Faktura VAT 1/2024\nRazem: 123,45 zł", text)
}

func TestParseMarkdownDropsFrontmatterAndMarkup(t *testing.T) {
	path := writeFile(t, t.TempDir(), "post.md", "---\ntitle: Kadry\n---\n# Nagłówek\n\nTekst **pogrubiony**.\n")

	text, err := ParseToText(path)
	require.NoError(t, err)
	assert.Equal(t, "Nagłówek\nTekst pogrubiony.", text)
}

func TestParsePPTXOrdersSlides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	slide := func(text string) string {
		return `<p:sld><a:p><a:r><a:t>` + text + `</a:t></a:r><a:r><a:tab/><a:t xml:space="preserve"> &amp; more</a:t></a:r></a:p></p:sld>`
	}
	writeZip(t, path, map[string]string{
		"ppt/slides/slide10.xml":            slide("Ten"),
		"ppt/slides/slide2.xml":             slide("Two"),
		"ppt/slides/slide1.xml":             slide("One"),
		"ppt/slides/_rels/slide1.xml.rels":  "<Relationships/>",
		"ppt/slideLayouts/slideLayout1.xml": slide("Layout"),
	})

	sections, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, sections, 3)
	assert.Equal(t, Section{Content: "One & more", Number: 1}, sections[0])
	assert.Equal(t, 2, sections[1].Number)
	assert.Equal(t, 10, sections[2].Number)
}

func TestParseXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Pozycje")
	require.NoError(t, err)
	row := sheet.AddRow()
	row.AddCell().SetString("Towar")
	row.AddCell().SetString("Cena")
	row = sheet.AddRow()
	row.AddCell().SetString("Śruba")
	row.AddCell().SetString("1.50")
	require.NoError(t, f.Save(path))

	text, err := ParseToText(path)
	require.NoError(t, err)
	assert.Equal(t, "## Sheet: Pozycje\nTowar\tCena\nŚruba\t1.50", text)
}

func TestParseXLSM(t *testing.T) {
	dir := t.TempDir()
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Netto"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "100"))
	xlsxPath := filepath.Join(dir, "book.xlsx")
	require.NoError(t, f.SaveAs(xlsxPath))
	require.NoError(t, f.Close())
	path := filepath.Join(dir, "book.xlsm")
	require.NoError(t, os.Rename(xlsxPath, path))

	sections, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "## Sheet: Sheet1\nNetto\t100", sections[0].Content)
}

func TestParseUnsupported(t *testing.T) {
	path := writeFile(t, t.TempDir(), "scan.png", "x")
	_, err := Parse(path)
	assert.ErrorContains(t, err, "unsupported file format: .png")
	assert.False(t, Supported(path))
	assert.True(t, Supported("a.PDF"))
}

func TestExtractParagraphs(t *testing.T) {
	xml := `<w:body><w:p><w:r><w:t>Pierwszy</w:t></w:r><w:r><w:t xml:space="preserve"> wiersz</w:t></w:r></w:p>` +
		`<w:p><w:pPr/></w:p><w:tbl><w:tr><w:tc><w:p><w:r><w:t>Komórka &lt;1&gt;</w:t></w:r></w:p></w:tc></w:tr></w:tbl></w:body>`
	assert.Equal(t, "Pierwszy wiersz\nKomórka <1>\n", extractParagraphs(xml, "w:p", "w:t"))
}
