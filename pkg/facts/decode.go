package facts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

var typeAliases = map[string]string{
	"word":       TypeWord,
	"words":      TypeWord,
	"assoc":      TypeAssoc,
	"word_assoc": TypeAssoc,
	"phrase":     TypePhrase,
	"phrases":    TypePhrase,
	"paragraph":  TypeParagraph,
}

// Decode parses one JSON record. Unknown or missing types decode to
// UnknownFact without error; shape violations return ErrMalformedFact.
func Decode(line []byte) (Fact, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFact, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: record is null", ErrMalformedFact)
	}

	var rawType string
	if t, ok := fields["type"]; ok {
		if err := json.Unmarshal(t, &rawType); err != nil {
			return nil, fmt.Errorf("%w: type must be a string", ErrMalformedFact)
		}
	}
	typ, ok := typeAliases[strings.ToLower(strings.TrimSpace(rawType))]
	if !ok {
		return UnknownFact{RawType: rawType}, nil
	}

	src, err := decodeSource(fields["source"])
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeWord:
		spellings, err := oneOrMany(fields, "spellings", "spelling")
		if err != nil {
			return nil, err
		}
		phonetics, err := oneOrMany(fields, "phonetics", "phonetic")
		if err != nil {
			return nil, err
		}
		return WordFact{Spellings: spellings, Phonetics: phonetics, Source: src}, nil
	case TypeAssoc:
		assocs, dropped, err := decodeAssocs(fields)
		if err != nil {
			return nil, err
		}
		return AssocFact{Assocs: assocs, Dropped: dropped, Source: src}, nil
	case TypePhrase:
		phrases, err := oneOrMany(fields, "phrases", "phrase")
		if err != nil {
			return nil, err
		}
		return PhraseFact{Phrases: phrases, Source: src}, nil
	default:
		return ParagraphFact{Source: src}, nil
	}
}

// firstPresent returns the value of the first key that is present and not null.
func firstPresent(fields map[string]json.RawMessage, keys ...string) (string, json.RawMessage) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && !isNull(v) {
			return k, v
		}
	}
	return "", nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// oneOrMany reads a string or list of strings.
func oneOrMany(fields map[string]json.RawMessage, keys ...string) ([]string, error) {
	key, raw := firstPresent(fields, keys...)
	if raw == nil {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("%w: %s must be a string or a list of strings", ErrMalformedFact, key)
	}
	return many, nil
}

func decodeAssocs(fields map[string]json.RawMessage) ([]Assoc, int, error) {
	key, raw := firstPresent(fields, "assocs", "assoc")
	if raw == nil {
		return nil, 0, nil
	}
	var entries []json.RawMessage
	switch bytes.TrimSpace(raw)[0] {
	case '[':
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, 0, fmt.Errorf("%w: %s: %v", ErrMalformedFact, key, err)
		}
	case '{':
		entries = []json.RawMessage{raw}
	default:
		return nil, 0, fmt.Errorf("%w: %s must be an object or a list of objects", ErrMalformedFact, key)
	}

	var out []Assoc
	dropped := 0
	for _, e := range entries {
		var entry struct {
			Word1 any `json:"word1"`
			Word2 any `json:"word2"`
			Type  any `json:"type"`
		}
		if err := json.Unmarshal(e, &entry); err != nil {
			dropped++
			continue
		}
		w1, ok1 := entry.Word1.(string)
		w2, ok2 := entry.Word2.(string)
		w1, w2 = strings.TrimSpace(w1), strings.TrimSpace(w2)
		if !ok1 || !ok2 || w1 == "" || w2 == "" {
			dropped++
			continue
		}
		typ, _ := entry.Type.(string)
		out = append(out, Assoc{Word1: w1, Word2: w2, Type: strings.TrimSpace(typ)})
	}
	return out, dropped, nil
}

func decodeSource(raw json.RawMessage) (Source, error) {
	if isNull(raw) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: source must be an object", ErrMalformedFact)
	}

	src := make(Source, len(obj))
	for field, v := range obj {
		if strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("%w: source has an empty field name", ErrMalformedFact)
		}
		var vals []string
		switch v := v.(type) {
		case nil:
			continue
		case []any:
			for _, item := range v {
				s, ok, err := scalarText(field, item)
				if err != nil {
					return nil, err
				}
				if ok {
					vals = append(vals, s)
				}
			}
		default:
			s, ok, err := scalarText(field, v)
			if err != nil {
				return nil, err
			}
			if ok {
				vals = append(vals, s)
			}
		}
		if len(vals) > 0 {
			src[field] = vals
		}
	}
	return src, nil
}

func scalarText(field string, v any) (string, bool, error) {
	switch v := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case json.Number:
		return v.String(), true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	default:
		return "", false, fmt.Errorf("%w: source field %q must hold text values", ErrMalformedFact, field)
	}
}
