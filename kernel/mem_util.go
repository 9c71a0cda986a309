package kernel

// Memset sets every byte of dst to value. Unlike the teacher's bare-metal
// version we operate on an ordinary Go slice: there is no raw physical
// address to overlay, since frames live inside a simulated RAM arena
// (see kernel/mem/pmm).
func Memset(dst []byte, value byte) {
	if len(dst) == 0 {
		return
	}

	dst[0] = value
	for filled := 1; filled < len(dst); filled *= 2 {
		copy(dst[filled:], dst[:filled])
	}
}

// Memcopy copies min(len(src), len(dst)) bytes from src to dst.
func Memcopy(dst, src []byte) {
	copy(dst, src)
}
