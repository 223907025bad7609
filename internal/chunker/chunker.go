package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"rag-corpus/internal/models"
)

// DefaultSeparators is the split priority: paragraph, line, sentence, word, character
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter is a recursive character splitter. Lengths are counted in runes.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

func New(chunkSize, chunkOverlap int) *Splitter {
	return &Splitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Separators:   DefaultSeparators,
	}
}

// Split chunks every page independently. chunk ids restart at 0 on each page.
func Split(pages []models.PageRecord, chunkSize, chunkOverlap int) []models.Chunk {
	return New(chunkSize, chunkOverlap).SplitPages(pages)
}

func (s *Splitter) SplitPages(pages []models.PageRecord) []models.Chunk {
	var chunks []models.Chunk
	for _, p := range pages {
		pieces := s.SplitText(p.Text)
		if len(pieces) == 0 {
			log.Debug().Int("page", p.Page).Msg("page has no text, skipping")
			continue
		}
		for i, piece := range pieces {
			chunks = append(chunks, models.Chunk{
				Text:    piece,
				Page:    p.Page,
				ChunkID: i,
				Source:  p.Source,
			})
		}
	}
	return chunks
}

// SplitText normalizes whitespace and splits one page of text
func (s *Splitter) SplitText(text string) []string {
	text = Normalize(text)
	if text == "" {
		return nil
	}
	return s.split(text, s.Separators)
}

// Normalize collapses whitespace runs to a single space and trims the ends
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := ""
	var rest []string
	if len(separators) > 0 {
		separator = separators[len(separators)-1]
	}
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var (
		chunks []string
		good   []string
	)
	for _, piece := range splitKeepStart(text, separator) {
		if runeLen(piece) < s.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		chunks = append(chunks, s.merge(good)...)
	}
	return chunks
}

// merge greedily joins consecutive pieces up to ChunkSize, carrying at most
// ChunkOverlap runes of trailing pieces into the next chunk
func (s *Splitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.ChunkSize {
			if total > s.ChunkSize {
				log.Warn().Int("length", total).Int("chunk_size", s.ChunkSize).Msg("created a chunk longer than chunk size")
			}
			if len(current) > 0 {
				if doc := join(current); doc != "" {
					docs = append(docs, doc)
				}
				for total > s.ChunkOverlap || (total+n > s.ChunkSize && total > 0) {
					total -= runeLen(current[0])
					current = current[1:]
				}
			}
		}
		current = append(current, piece)
		total += n
	}
	if doc := join(current); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepStart splits on sep and prepends the separator to every piece but the first
func splitKeepStart(text, sep string) []string {
	var out []string
	if sep == "" {
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	for i, part := range parts {
		if i > 0 {
			part = sep + part
		}
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func join(pieces []string) string {
	return strings.TrimSpace(strings.Join(pieces, ""))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
