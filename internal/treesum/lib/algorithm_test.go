package lib

import (
	"testing"
)

func TestDigests(t *testing.T) {
	t.Run("MD5 empty-input digest", func(t *testing.T) {
		// Arrange
		const want = "d41d8cd98f00b204e9800998ecf8427e"

		// Act
		got, err := EmptyDigest(AlgMD5)

		// Assert
		if err != nil {
			t.Fatalf("EmptyDigest(md5) failed with an unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("EmptyDigest(md5) was incorrect, got: %s, want: %s", got, want)
		}
	})

	t.Run("SHA-256 empty-input digest", func(t *testing.T) {
		const want = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

		got, err := EmptyDigest(AlgSHA256)

		if err != nil {
			t.Fatalf("EmptyDigest(sha256) failed with an unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("EmptyDigest(sha256) was incorrect, got: %s, want: %s", got, want)
		}
	})

	t.Run("unknown algorithm is rejected", func(t *testing.T) {
		if _, err := NewDigest("crc32"); err == nil {
			t.Fatal("Expected an error for an unsupported algorithm, but got nil")
		}
		if _, err := EmptyDigest(""); err == nil {
			t.Fatal("Expected an error for an empty algorithm name, but got nil")
		}
	})

	t.Run("all supported algorithms construct", func(t *testing.T) {
		for _, alg := range SupportedAlgorithms() {
			h, err := NewDigest(alg)
			if err != nil {
				t.Errorf("NewDigest(%s) failed: %v", alg, err)
				continue
			}
			if h == nil {
				t.Errorf("NewDigest(%s) returned a nil hash", alg)
			}
		}
	})
}

func TestBufferSize(t *testing.T) {
	t.Run("bigger files get bigger buffers", func(t *testing.T) {
		small := bufferSize(AlgSHA256, 10<<10)
		big := bufferSize(AlgSHA256, 100<<20)
		if small >= big {
			t.Errorf("expected buffer for 100MiB (%d) to exceed buffer for 10KiB (%d)", big, small)
		}
	})

	t.Run("larger-digest algorithms get the next size down", func(t *testing.T) {
		fast := bufferSize(AlgSHA256, 2<<20)
		slow := bufferSize(AlgSHA512, 2<<20)
		if slow >= fast {
			t.Errorf("expected sha512 buffer (%d) below sha256 buffer (%d) for the same size", slow, fast)
		}
	})
}
