package maven

import (
	"bytes"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeChecksums(t *testing.T) {
	sums, err := ComputeChecksums(strings.NewReader("hello"))
	require.NoError(t, err)

	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sums.MD5)
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", sums.SHA1)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sums.SHA256)
	assert.Len(t, sums.SHA512, 128)

	files := sums.Files()
	require.Len(t, files, 4)
	assert.Equal(t, "md5", files[0].Ext)
	assert.Equal(t, sums.SHA1, files[1].Value)
}

func TestChecksumsAreStable(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("hashing the same content twice yields the same digests", prop.ForAll(
		func(content []byte) bool {
			a, errA := ComputeChecksums(bytes.NewReader(content))
			b, errB := ComputeChecksums(bytes.NewReader(append([]byte{}, content...)))
			return errA == nil && errB == nil && a == b
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
