package grouping

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyer_HashIsOrderIndependent(t *testing.T) {
	t.Parallel()

	keyer := NewKeyer()

	a := keyer.Hash(map[string]string{"book": "MACRO", "region": "EMEA"})
	b := keyer.Hash(map[string]string{"region": "EMEA", "book": "MACRO"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, DefaultGroup, a)
	assert.Len(t, a, 16)
}

func TestKeyer_HashDistinguishesValues(t *testing.T) {
	t.Parallel()

	keyer := NewKeyer()

	emea := keyer.Hash(map[string]string{"region": "EMEA"})
	apac := keyer.Hash(map[string]string{"region": "APAC"})

	assert.NotEqual(t, emea, apac)
}

func TestKeyer_EmptyGroupIsDefault(t *testing.T) {
	t.Parallel()

	keyer := NewKeyer()

	assert.Equal(t, DefaultGroup, keyer.Hash(nil))
	assert.Equal(t, DefaultGroup, keyer.Hash(map[string]string{}))
	assert.Equal(t, DefaultGroup, keyer.Label(nil))
}

func TestKeyer_Label(t *testing.T) {
	t.Parallel()

	keyer := NewKeyer()

	label := keyer.Label(map[string]string{"region": "EMEA", "book": "MACRO"})

	assert.Equal(t, "book=MACRO / region=EMEA", label)
}
