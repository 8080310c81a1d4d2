// Package dictionary loads CMU-style pronouncing dictionaries and uses them to
// fill in phonetics for words that have none.
package dictionary

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Entry is one word with all its pronunciations, in dictionary order.
type Entry struct {
	Word      string
	Phonetics []string
}

// LoadCMUDict parses the CMU pronouncing dictionary format:
//
//	word  W ER1 D
//	word(2)  W ER0 D   # variant
//
// Words are lowercased; ";;;" and "#" comments are ignored.
func LoadCMUDict(r io.Reader) ([]Entry, error) {
	var entries []Entry
	pos := make(map[string]int)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.HasPrefix(line, ";;;") {
			continue
		}
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: missing pronunciation for %q", lineNo, fields[0])
		}

		word := strings.ToLower(fields[0])
		if i := strings.IndexByte(word, '('); i > 0 && strings.HasSuffix(word, ")") {
			word = word[:i]
		}
		phonetic := strings.Join(fields[1:], " ")

		if i, ok := pos[word]; ok {
			entries[i].Phonetics = append(entries[i].Phonetics, phonetic)
			continue
		}
		pos[word] = len(entries)
		entries = append(entries, Entry{Word: word, Phonetics: []string{phonetic}})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	return entries, nil
}

// LoadFile reads a CMU dictionary from path.
func LoadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCMUDict(f)
}
