package parser

import (
	"archive/zip"
	"encoding/xml"
	"errors"
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
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"rag-corpus/internal/config"
	"rag-corpus/internal/models"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

type Parser interface {
	Extract(filePath string) ([]models.PageRecord, error)
}

// FileParser dispatches on the file extension
type FileParser struct {
	Options config.ExtractConfig
}

func New(opts config.ExtractConfig) *FileParser {
	return &FileParser{Options: opts}
}

// Extract returns one record per page, in page order. Formats without pages
// use their natural unit: slides, sheets, form-feed or thematic-break sections.
func Extract(filePath string, opts config.ExtractConfig) ([]models.PageRecord, error) {
	return New(opts).Extract(filePath)
}

func (p *FileParser) Extract(filePath string) ([]models.PageRecord, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	var (
		texts []string
		err   error
	)
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		texts, err = p.parsePDF(filePath)
	case ".docx":
		texts, err = parseDOCX(filePath)
	case ".pptx":
		texts, err = parsePPTX(filePath)
	case ".xlsx":
		texts, err = parseXLSX(filePath)
	case ".xlsm", ".xltx", ".xltm":
		texts, err = parseExcelize(filePath)
	case ".md", ".markdown":
		texts, err = parseMarkdownFile(filePath)
	case ".txt":
		texts, err = parseText(filePath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(filePath), err)
	}

	source := filepath.Base(filePath)
	pages := make([]models.PageRecord, len(texts))
	for i, t := range texts {
		pages[i] = models.PageRecord{Text: t, Page: i + 1, Source: source}
	}
	log.Info().Str("source", source).Int("pages", len(pages)).Msg("Extracted document")
	return pages, nil
}

func (p *FileParser) parsePDF(filePath string) ([]string, error) {
	if p.Options.CropTop > 0 || p.Options.CropBottom > 0 {
		tmp, err := os.CreateTemp("", "rag-crop-*.pdf")
		if err != nil {
			return nil, err
		}
		tmp.Close()
		defer os.Remove(tmp.Name())

		if err := RemoveHeaderFooterCrop(filePath, tmp.Name(), p.Options.CropTop, p.Options.CropBottom); err != nil {
			return nil, err
		}
		filePath = tmp.Name()
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	texts := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			texts = append(texts, "")
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		texts = append(texts, pageText)
	}
	return texts, nil
}

// explicit page breaks are the only page boundaries a docx file carries
func parseDOCX(filePath string) ([]string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return extractWordPages(r.Editable().GetContent())
}

func extractWordPages(content string) ([]string, error) {
	var (
		pages []string
		text  strings.Builder
		inT   bool
	)
	dec := xml.NewDecoder(strings.NewReader(content))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inT = true
			case "tab":
				text.WriteString("\t")
			case "br":
				if attr(el, "type") == "page" {
					pages = append(pages, text.String())
					text.Reset()
				} else {
					text.WriteString("\n")
				}
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inT = false
			case "p":
				text.WriteString("\n")
			}
		case xml.CharData:
			if inT {
				text.Write(el)
			}
		}
	}
	return append(pages, text.String()), nil
}

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// one page per slide, in slide number order
func parsePPTX(filePath string) ([]string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		m := slideName.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	texts := make([]string, 0, len(slides))
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
		texts = append(texts, extractTextFromXML(string(data)))
	}
	return texts, nil
}

// extractTextFromXML collects <a:t> runs, one line per <a:p> paragraph
func extractTextFromXML(xmlContent string) string {
	var (
		text strings.Builder
		inT  bool
	)
	dec := xml.NewDecoder(strings.NewReader(xmlContent))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				inT = true
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inT = false
			case "p":
				text.WriteString("\n")
			}
		case xml.CharData:
			if inT {
				text.Write(el)
			}
		}
	}
	return text.String()
}

func parseXLSX(filePath string) ([]string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(f.Sheets))
	for _, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			var cells []string
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		texts = append(texts, sheetText(sheet.Name, rows))
	}
	return texts, nil
}

func parseExcelize(filePath string) ([]string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var texts []string
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		texts = append(texts, sheetText(sheetName, rows))
	}
	return texts, nil
}

func sheetText(name string, rows [][]string) string {
	var text strings.Builder
	fmt.Fprintf(&text, "Sheet: %s\n", name)
	for _, row := range rows {
		text.WriteString(strings.Join(row, "\t"))
		text.WriteString("\n")
	}
	return text.String()
}

// form feeds separate pages in plain text exports
func parseText(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\f"), nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
