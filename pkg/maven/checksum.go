package maven

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// Checksums holds the digests Maven repositories expect next to every uploaded file
type Checksums struct {
	MD5    string
	SHA1   string
	SHA256 string
	SHA512 string
}

// ChecksumFile is a single sidecar file such as memory-store-1.9.jar.sha1
type ChecksumFile struct {
	Ext   string
	Value string
}

// ComputeChecksums reads r to the end and returns all digests
func ComputeChecksums(r io.Reader) (Checksums, error) {
	md5Hash := md5.New()
	sha1Hash := sha1.New()
	sha256Hash := sha256.New()
	sha512Hash := sha512.New()

	_, err := io.Copy(io.MultiWriter(md5Hash, sha1Hash, sha256Hash, sha512Hash), r)
	if err != nil {
		return Checksums{}, eris.Wrap(err, "failed to hash content")
	}

	return Checksums{
		MD5:    hex.EncodeToString(md5Hash.Sum(nil)),
		SHA1:   hex.EncodeToString(sha1Hash.Sum(nil)),
		SHA256: hex.EncodeToString(sha256Hash.Sum(nil)),
		SHA512: hex.EncodeToString(sha512Hash.Sum(nil)),
	}, nil
}

// FileChecksums hashes the file at path
func FileChecksums(path string) (Checksums, error) {
	f, err := os.Open(path)
	if err != nil {
		return Checksums{}, eris.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	return ComputeChecksums(f)
}

// Files lists the sidecar files in upload order
func (c Checksums) Files() []ChecksumFile {
	return []ChecksumFile{
		{Ext: "md5", Value: c.MD5},
		{Ext: "sha1", Value: c.SHA1},
		{Ext: "sha256", Value: c.SHA256},
		{Ext: "sha512", Value: c.SHA512},
	}
}
