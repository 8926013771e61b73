package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	utf16LEBOM = []byte{0xFF, 0xFE}
	utf16BEBOM = []byte{0xFE, 0xFF}
)

// legacyEncodings are tried in order once the bytes are not valid UTF-8.
var legacyEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"windows-1252", charmap.Windows1252},
	{"iso-8859-1", charmap.ISO8859_1},
}

// delimiterCandidates in tie-break order.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

// sniffLines is how many non-empty lines the delimiter sniffer inspects.
const sniffLines = 10

func readDelimited(data []byte) (*Table, error) {
	text, enc, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	delim := sniffDelimiter(text)

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	tbl := &Table{Encoding: enc, Delimiter: string(delim)}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse delimited: %w", err)
		}
		line, _ := r.FieldPos(0)
		tbl.Rows = append(tbl.Rows, row)
		tbl.Lines = append(tbl.Lines, line)
	}

	return tbl, nil
}

// decodeText converts raw bytes to a string, walking the encoding fallback
// chain: UTF-16 (by BOM), UTF-8 with BOM, UTF-8, Windows-1252, ISO-8859-1.
func decodeText(data []byte) (string, string, error) {
	switch {
	case bytes.HasPrefix(data, utf16LEBOM) || bytes.HasPrefix(data, utf16BEBOM):
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(data)
		if err != nil {
			return "", "", fmt.Errorf("decode text as utf-16: %w", err)
		}
		return string(out), "utf-16", nil

	case bytes.HasPrefix(data, utf8BOM) && utf8.Valid(data[len(utf8BOM):]):
		out, err := unicode.UTF8BOM.NewDecoder().Bytes(data)
		if err != nil {
			return "", "", fmt.Errorf("decode text as utf-8-sig: %w", err)
		}
		return string(out), "utf-8-sig", nil

	case utf8.Valid(data):
		return string(data), "utf-8", nil
	}

	for _, le := range legacyEncodings {
		out, err := le.enc.NewDecoder().Bytes(data)
		if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
			continue
		}
		return string(out), le.name, nil
	}

	return "", "", errors.New("decode text: no encoding in the fallback chain matched")
}

// sniffDelimiter picks the candidate that splits the header at least once
// and yields the same field count on the most lines. Ties go to the larger
// header count, then to candidate order.
func sniffDelimiter(text string) rune {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == sniffLines {
			break
		}
	}
	if len(lines) == 0 {
		return ','
	}

	best := ','
	bestConsistent, bestHeader := 0, 0
	for _, d := range delimiterCandidates {
		header := countOutsideQuotes(lines[0], d)
		if header == 0 {
			continue
		}
		consistent := 0
		for _, line := range lines {
			if countOutsideQuotes(line, d) == header {
				consistent++
			}
		}
		if consistent > bestConsistent || (consistent == bestConsistent && header > bestHeader) {
			best, bestConsistent, bestHeader = d, consistent, header
		}
	}
	return best
}

// countOutsideQuotes counts occurrences of d not enclosed in double quotes.
func countOutsideQuotes(line string, d rune) int {
	n := 0
	inQuotes := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == d && !inQuotes:
			n++
		}
	}
	return n
}
