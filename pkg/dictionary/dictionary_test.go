package dictionary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDict = `;;; sample
THEATER  TH IY1 AH0 T ER0
nine N AY1 N
wine W AY1 N # comment
wine(2) HH W AY1 N

`

func TestLoadCMUDict(t *testing.T) {
	entries, err := LoadCMUDict(strings.NewReader(sampleDict))
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Word: "theater", Phonetics: []string{"TH IY1 AH0 T ER0"}},
		{Word: "nine", Phonetics: []string{"N AY1 N"}},
		{Word: "wine", Phonetics: []string{"W AY1 N", "HH W AY1 N"}},
	}, entries)
}

func TestLoadCMUDictRejectsBareWord(t *testing.T) {
	_, err := LoadCMUDict(strings.NewReader("lonely\n"))
	assert.Error(t, err)
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	entries, err := LoadCMUDict(strings.NewReader(sampleDict))
	require.NoError(t, err)
	im := NewImporter(entries)
	assert.Equal(t, 3, im.Len())
	assert.Equal(t, []string{"N AY1 N"}, im.Lookup(" Nine "))
	assert.Nil(t, im.Lookup("ten"))

	f, ok := im.Fact("Wine")
	require.True(t, ok)
	assert.Equal(t, []string{"Wine"}, f.Spellings)
	assert.Len(t, f.Phonetics, 2)
}
