package bio

// UnescapeRBSP strips emulation_prevention_three_byte values (the 0x03 in
// 0x000003) from a NAL unit payload. It returns the RBSP and the indices in
// data of every removed byte, in increasing order. Slice entry point
// offsets count the removed bytes. The input is not modified.
func UnescapeRBSP(data []byte) ([]byte, []int) {
	// Fast path: nothing to strip.
	found := false
	for i := 2; i < len(data); i++ {
		if data[i] == 0x03 && data[i-1] == 0 && data[i-2] == 0 {
			found = true
			break
		}
	}
	if !found {
		return data, nil
	}

	out := make([]byte, 0, len(data))
	var removed []int
	zeros := 0
	for i, b := range data {
		if zeros >= 2 && b == 0x03 {
			zeros = 0
			removed = append(removed, i)
			continue
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out, removed
}

// AddEmulationPrevention inserts emulation_prevention_three_byte values so
// that no 0x000000, 0x000001, 0x000002 or 0x000003 sequence appears in the
// result.
func AddEmulationPrevention(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+len(rbsp)/64+1)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	// A trailing zero byte must be protected as well.
	if zeros >= 2 {
		out = append(out, 0x03)
	}
	return out
}
