package ngram

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxLineLength bounds a single corpus line read by ReadLines.
const maxLineLength = 1024 * 1024

// Corpus is a source of training text, delivered as an ordered sequence of
// lines with their newlines removed.
type Corpus interface {
	Lines() ([]string, error)
}

// LinesCorpus is an in-memory corpus.
type LinesCorpus []string

// Lines returns a copy of the lines.
func (c LinesCorpus) Lines() ([]string, error) {
	lines := make([]string, len(c))
	copy(lines, c)
	return lines, nil
}

// StringCorpus returns a corpus holding the lines of text.
func StringCorpus(text string) Corpus {
	return &ReaderCorpus{R: strings.NewReader(text)}
}

// ReaderCorpus reads its lines from R the first time Lines is called.
// Later calls return the cached lines, since R has been consumed.
type ReaderCorpus struct {
	R     io.Reader
	lines []string
	read  bool
}

// Lines reads R to the end on the first call.
func (c *ReaderCorpus) Lines() ([]string, error) {
	if !c.read {
		lines, err := ReadLines(c.R)
		if err != nil {
			return nil, err
		}
		c.lines = lines
		c.read = true
	}
	return LinesCorpus(c.lines).Lines()
}

// FileCorpus is a corpus stored in a UTF-8 text file, one sentence per line.
// The file is opened and closed on every call to Lines.
type FileCorpus struct {
	Path string
}

// Lines reads the whole file and releases the handle before returning.
func (c FileCorpus) Lines() ([]string, error) {
	file, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("could not open corpus file: %w", err)
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	lines, err := ReadLines(file)
	if err != nil {
		return nil, fmt.Errorf("could not read corpus file %s: %w", c.Path, err)
	}
	return lines, nil
}

// ReadLines reads r to the end and returns its lines without line endings.
func ReadLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
