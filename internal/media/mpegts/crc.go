package mpegts

// crcTable drives the CRC-32/MPEG-2 checksum: polynomial 0x04C11DB7, MSB
// first, no reflection.
var crcTable = func() (table [256]uint32) {
	for i := range table {
		c := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		table[i] = c
	}
	return table
}()

// CRC32 computes the PSI section checksum: seed 0xFFFFFFFF, no final XOR.
// Running it over a whole section including its stored CRC yields zero.
func CRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}
