package armwind

// Fuzz exercises the instruction decoder against arbitrary bytes,
// treating data as an exidx Word 1 value followed by an extab blob.
// Kept in the go-fuzz harness shape the rest of this lineage's tooling
// expects (a single `func Fuzz([]byte) int`).
func Fuzz(data []byte) int {
	if len(data) < 4 {
		return 0
	}
	word1 := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	extab := data[4:]
	if _, err := decodeEntry(word1, 0, extab, 0); err != nil {
		return 0
	}
	return 1
}
