package ustar

import (
	"testing"
	"unsafe"
)

func buildEntry(name string, fileType Type, content []byte) []byte {
	var h rawHeader
	copy(h.name[:], name)
	copy(h.magic[:], magicField)
	h.typeFlag = byte(fileType)
	sizeOctal := []byte(padOctal(uint64(len(content)), 11))
	copy(h.size[:], sizeOctal)

	raw := make([]byte, blockSize)
	copy(raw, (*(*[blockSize]byte)(unsafe.Pointer(&h)))[:])
	for i := range h.checksum {
		raw[148+i] = ' '
	}
	sum := checksumOf(raw)
	copy(raw[148:156], padOctal(uint64(sum), 6)+"\x00 ")

	padded := len(content)
	if r := padded % blockSize; r != 0 {
		padded += blockSize - r
	}
	out := make([]byte, blockSize+padded)
	copy(out, raw)
	copy(out[blockSize:], content)
	return out
}

func padOctal(v uint64, width int) string {
	digits := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		digits[i] = byte('0' + v%8)
		v /= 8
	}
	return string(digits)
}

func TestReadAllFindsEveryEntry(t *testing.T) {
	var archive []byte
	archive = append(archive, buildEntry("init", TypeFile, []byte("hello init"))...)
	archive = append(archive, buildEntry("bin/", TypeDirectory, nil)...)
	archive = append(archive, make([]byte, blockSize*2)...) // terminating zero blocks

	files := ReadAll(archive)
	if len(files) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(files))
	}
	if files[0].Name != "init" || string(files[0].Data) != "hello init" {
		t.Fatalf("unexpected first entry: %+v", files[0])
	}
	if !files[1].IsDir() {
		t.Fatalf("expected second entry to be a directory: %+v", files[1])
	}
}

func TestFindLocatesByName(t *testing.T) {
	var archive []byte
	archive = append(archive, buildEntry("a", TypeFile, []byte("A"))...)
	archive = append(archive, buildEntry("init", TypeFile, []byte("payload"))...)
	archive = append(archive, make([]byte, blockSize*2)...)

	f, ok := Find(archive, "init")
	if !ok {
		t.Fatal("expected to find init")
	}
	if string(f.Data) != "payload" {
		t.Fatalf("unexpected data: %q", f.Data)
	}

	if _, ok := Find(archive, "missing"); ok {
		t.Fatal("expected missing entry not to be found")
	}
}

func TestReadAllRejectsBadMagic(t *testing.T) {
	bad := make([]byte, blockSize)
	bad[0] = 'x'
	if files := ReadAll(bad); len(files) != 0 {
		t.Fatalf("expected no entries from bad magic, got %d", len(files))
	}
}
