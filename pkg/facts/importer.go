package facts

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lanceczlt/Pun-Generator/pkg/db"
	"github.com/lanceczlt/Pun-Generator/pkg/identity"
	"github.com/lanceczlt/Pun-Generator/pkg/tokenize"
)

// SourcePolicy controls whether identical source objects share a row.
type SourcePolicy string

const (
	// SourceDistinct allocates a new source row for every sourced fact.
	SourceDistinct SourcePolicy = "distinct"
	// SourceFingerprint reuses the row of an identical, previously seen source.
	SourceFingerprint SourcePolicy = "fingerprint"
)

// ParseSourcePolicy validates a policy name. The empty string selects SourceDistinct.
func ParseSourcePolicy(s string) (SourcePolicy, error) {
	switch p := SourcePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return SourceDistinct, nil
	case SourceDistinct, SourceFingerprint:
		return p, nil
	default:
		return "", fmt.Errorf("unknown source policy %q", s)
	}
}

// Importer applies facts to the store. One Importer belongs to one ingestion
// session; its identity cache must not be shared with other writers.
type Importer struct {
	Identities   *identity.Cache
	Tokenizer    *tokenize.Tokenizer
	SourcePolicy SourcePolicy
	Logger       zerolog.Logger
}

// NewImporter returns an Importer with a fresh identity cache and the
// distinct source policy.
func NewImporter(tok *tokenize.Tokenizer, logger zerolog.Logger) *Importer {
	return &Importer{
		Identities:   identity.New(),
		Tokenizer:    tok,
		SourcePolicy: SourceDistinct,
		Logger:       logger,
	}
}

// Prepare does the CPU-bound part of importing a fact (tokenization) so it can
// run off the writer goroutine. Import works on unprepared facts too.
func (im *Importer) Prepare(f Fact) Fact {
	pf, ok := f.(PhraseFact)
	if !ok || im.Tokenizer == nil {
		return f
	}
	pf.tokens = make([][]string, len(pf.Phrases))
	for i, p := range pf.Phrases {
		pf.tokens[i] = im.Tokenizer.Tokenize(p)
	}
	return pf
}

// ImportRaw decodes and applies one JSON record.
func (im *Importer) ImportRaw(ctx context.Context, exec db.DBExecutor, line []byte) (Outcome, error) {
	f, err := Decode(line)
	if err != nil {
		return NoOp, err
	}
	return im.Import(ctx, exec, f)
}

// Import applies a decoded fact.
func (im *Importer) Import(ctx context.Context, exec db.DBExecutor, f Fact) (Outcome, error) {
	switch f := f.(type) {
	case WordFact:
		return im.importWord(ctx, exec, f)
	case AssocFact:
		return im.importAssoc(ctx, exec, f)
	case PhraseFact:
		return im.importPhrase(ctx, exec, f)
	case ParagraphFact:
		return NoOp, nil
	case UnknownFact:
		return NoOp, fmt.Errorf("%w: %q", ErrUnknownFactType, f.RawType)
	default:
		return NoOp, fmt.Errorf("%w: %T", ErrUnknownFactType, f)
	}
}

func cleanList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (im *Importer) importWord(ctx context.Context, exec db.DBExecutor, f WordFact) (Outcome, error) {
	spellings := cleanList(f.Spellings)
	if len(spellings) == 0 {
		im.Logger.Debug().Msg("word fact without spellings")
		return NoOp, nil
	}

	hub := spellings[0]
	for _, s := range spellings[1:] {
		if s < hub {
			hub = s
		}
	}
	ids := make(map[string]int64, len(spellings))
	for _, s := range spellings {
		id, err := im.Identities.Resolve(ctx, exec, identity.WordSpelling, s)
		if err != nil {
			return NoOp, err
		}
		ids[s] = id
	}
	hubID := ids[hub]

	for _, s := range spellings {
		if s == hub {
			continue
		}
		if err := db.InsertAltSpelling(ctx, exec, hubID, ids[s]); err != nil {
			return NoOp, err
		}
	}
	for _, ph := range cleanList(f.Phonetics) {
		if err := db.InsertWordPhonetic(ctx, exec, hubID, ph); err != nil {
			return NoOp, err
		}
	}

	src, err := im.insertSource(ctx, exec, f.Source)
	if err != nil {
		return NoOp, err
	}
	if src.Valid {
		if err := db.InsertWordSource(ctx, exec, hubID, src.Int64); err != nil {
			return NoOp, err
		}
	}
	return Applied, nil
}

func (im *Importer) importAssoc(ctx context.Context, exec db.DBExecutor, f AssocFact) (Outcome, error) {
	if f.Dropped > 0 {
		im.Logger.Debug().Int("dropped", f.Dropped).Msg("skipped malformed associations")
	}
	if len(f.Assocs) == 0 {
		return NoOp, nil
	}

	src, err := im.insertSource(ctx, exec, f.Source)
	if err != nil {
		return NoOp, err
	}
	for _, a := range f.Assocs {
		w1, err := im.Identities.Resolve(ctx, exec, identity.WordSpelling, a.Word1)
		if err != nil {
			return NoOp, err
		}
		w2, err := im.Identities.Resolve(ctx, exec, identity.WordSpelling, a.Word2)
		if err != nil {
			return NoOp, err
		}
		typ := a.Type
		if typ == "" {
			typ = DefaultAssocType
		}
		typeID, err := im.Identities.Resolve(ctx, exec, identity.AssocType, typ)
		if err != nil {
			return NoOp, err
		}
		if err := db.InsertWordAssoc(ctx, exec, w1, w2, src, typeID); err != nil {
			return NoOp, err
		}
	}
	return Applied, nil
}

func (im *Importer) importPhrase(ctx context.Context, exec db.DBExecutor, f PhraseFact) (Outcome, error) {
	type item struct {
		text   string
		tokens []string
	}
	var items []item
	for i, p := range f.Phrases {
		text := strings.TrimSpace(p)
		if text == "" {
			continue
		}
		var toks []string
		if i < len(f.tokens) {
			toks = f.tokens[i]
		} else if im.Tokenizer != nil {
			toks = im.Tokenizer.Tokenize(text)
		}
		items = append(items, item{text, toks})
	}
	if len(items) == 0 {
		return NoOp, nil
	}

	src, err := im.insertSource(ctx, exec, f.Source)
	if err != nil {
		return NoOp, err
	}
	for _, it := range items {
		phraseID, err := db.InsertPhrase(ctx, exec, it.text)
		if err != nil {
			return NoOp, err
		}
		for _, tok := range it.tokens {
			wordID, err := im.Identities.Resolve(ctx, exec, identity.WordSpelling, tok)
			if err != nil {
				return NoOp, err
			}
			if err := db.LinkPhraseWord(ctx, exec, phraseID, wordID); err != nil {
				return NoOp, err
			}
		}
		if src.Valid {
			if err := db.LinkPhraseSource(ctx, exec, phraseID, src.Int64); err != nil {
				return NoOp, err
			}
		}
	}
	return Applied, nil
}

// insertSource stores a source object and returns its reference, or
// db.NoSource when the fact has none.
func (im *Importer) insertSource(ctx context.Context, exec db.DBExecutor, src Source) (sql.NullInt64, error) {
	if src == nil {
		return db.NoSource, nil
	}

	var srcID int64
	if im.SourcePolicy == SourceFingerprint {
		fp, err := Fingerprint(src)
		if err != nil {
			return db.NoSource, err
		}
		id, created, err := im.Identities.Ensure(ctx, exec, identity.SourceFingerprint, fp)
		if err != nil {
			return db.NoSource, err
		}
		if !created {
			return db.SourceRef(id), nil
		}
		srcID = id
	} else {
		id, err := db.InsertSource(ctx, exec, sql.NullString{})
		if err != nil {
			return db.NoSource, err
		}
		srcID = id
	}

	fields := make([]string, 0, len(src))
	for k := range src {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, field := range fields {
		tagID, err := im.Identities.Resolve(ctx, exec, identity.Tag, field)
		if err != nil {
			return db.NoSource, err
		}
		for _, v := range src[field] {
			mdID, err := db.InsertMetadata(ctx, exec, tagID, v)
			if err != nil {
				return db.NoSource, err
			}
			if err := db.LinkSourceMetadata(ctx, exec, srcID, mdID); err != nil {
				return db.NoSource, err
			}
		}
	}
	return db.SourceRef(srcID), nil
}

// Fingerprint returns a stable content hash of a source object. Field order is
// irrelevant; value order is significant.
func Fingerprint(src Source) (string, error) {
	// encoding/json sorts map keys.
	b, err := json.Marshal(map[string][]string(src))
	if err != nil {
		return "", fmt.Errorf("fingerprint source: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
