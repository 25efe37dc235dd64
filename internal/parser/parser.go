package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"kb-toolkit/internal/corpus"
)

// Section is the text of one page, slide or sheet. Number is 1-based.
type Section struct {
	Content string
	Number  int
}

const defaultPageNumber = 1

// Supported reports whether path has an extension Parse understands.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".txt", ".md":
		return true
	}
	return false
}

// Parse extracts the text of a document, one section per page, slide or sheet.
func Parse(filePath string) ([]Section, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return parsePDF(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".pptx":
		return parsePPTX(filePath)
	case ".xlsx":
		return parseXLSX(filePath)
	case ".xlsm":
		return parseXLSM(filePath)
	case ".txt":
		return parseText(filePath, false)
	case ".md":
		return parseText(filePath, true)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

// ParseToText returns the whole text of a document, sections separated by a
// blank line.
func ParseToText(filePath string) (string, error) {
	sections, err := Parse(filePath)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, s.Content)
	}
	return strings.Join(parts, "\n\n"), nil
}

func appendSection(sections []Section, content string, number int) []Section {
	content = strings.TrimSpace(content)
	if content == "" {
		return sections
	}
	return append(sections, Section{Content: content, Number: number})
}

func parsePDF(filePath string) ([]Section, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sections []Section
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		sections = appendSection(sections, pageText, i)
	}
	return sections, nil
}

func parseDOCX(filePath string) ([]Section, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// GetContent returns the raw document.xml
	content := r.Editable().GetContent()
	return appendSection(nil, extractParagraphs(content, "w:p", "w:t"), defaultPageNumber), nil
}

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func parsePPTX(filePath string) ([]Section, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		number int
		file   *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		m := slideName.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{number: n, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].number < slides[j].number })

	var sections []Section
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		sections = appendSection(sections, extractParagraphs(string(data), "a:p", "a:t"), s.number)
	}
	return sections, nil
}

func writeSheet(text *strings.Builder, name string, rows [][]string) {
	fmt.Fprintf(text, "## Sheet: %s\n", name)
	for _, row := range rows {
		text.WriteString(strings.Join(row, "\t"))
		text.WriteString("\n")
	}
}

func parseXLSX(filePath string) ([]Section, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var sections []Section
	for sheetNum, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		var text strings.Builder
		writeSheet(&text, sheet.Name, rows)
		sections = appendSection(sections, text.String(), sheetNum+1)
	}
	return sections, nil
}

func parseXLSM(filePath string) ([]Section, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sections []Section
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		var text strings.Builder
		writeSheet(&text, sheetName, rows)
		sections = appendSection(sections, text.String(), sheetNum+1)
	}
	return sections, nil
}

func parseText(filePath string, markdown bool) ([]Section, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	content := string(data)
	if markdown {
		if _, body, ok := corpus.SplitFrontmatter(content); ok {
			content = body
		}
		content = corpus.PlainText(content)
	}
	return appendSection(nil, content, defaultPageNumber), nil
}

// extractParagraphs collects the text runs of an OOXML part, one line per
// paragraph element.
func extractParagraphs(xmlContent, paragraphTag, textTag string) string {
	var out strings.Builder
	for _, para := range strings.Split(xmlContent, "</"+paragraphTag+">") {
		line := extractTextFromXML(para, textTag)
		if line == "" {
			continue
		}
		out.WriteString(line)
		out.WriteString("\n")
	}
	return out.String()
}

func extractTextFromXML(xmlContent, textTag string) string {
	var text strings.Builder
	open, closing := "<"+textTag, "</"+textTag+">"
	for {
		start := strings.Index(xmlContent, open)
		if start < 0 {
			break
		}
		rest := xmlContent[start+len(open):]
		// skip <a:tab/> style elements sharing the prefix
		gt := strings.IndexByte(rest, '>')
		if gt < 0 {
			break
		}
		if gt > 0 && rest[0] != ' ' || strings.HasSuffix(rest[:gt], "/") {
			xmlContent = rest[gt+1:]
			continue
		}
		rest = rest[gt+1:]
		end := strings.Index(rest, closing)
		if end < 0 {
			break
		}
		text.WriteString(unescapeXML(rest[:end]))
		xmlContent = rest[end+len(closing):]
	}
	return strings.TrimSpace(text.String())
}

var xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}
