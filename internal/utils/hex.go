package utils

const upperHex = "0123456789ABCDEF"

// Hex4 renders v as the four-digit checksum suffix used on the radio link.
func Hex4(v uint16) string {
	return string(appendHex(make([]byte, 0, 4), byte(v>>8), byte(v)))
}

// BytesToHex renders raw port bytes for log attributes.
func BytesToHex(b []byte) string {
	return string(appendHex(make([]byte, 0, 2*len(b)), b...))
}

func appendHex(dst []byte, src ...byte) []byte {
	for _, c := range src {
		dst = append(dst, upperHex[c>>4], upperHex[c&0x0F])
	}
	return dst
}
