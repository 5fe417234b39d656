package fastbleota

import "hash/crc32"

// Streaming CRC-32 (reflected, polynomial 0xEDB88320) used for firmware
// integrity. The accumulator is a plain value owned by the caller;
// crcFinalize is a pure transform so the running CRC can be reported at any
// point without perturbing the stream.
//
// hash/crc32 folds the pre/post inversion into each Update call, so the
// accumulator already carries the finalized value for the bytes seen so far
// and finalize is the identity. Peers that finalize a partial accumulator
// before reporting it produce the same wire values.

func crcInit() uint32 {
	return 0
}

func crcUpdate(crc uint32, p []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, p)
}

func crcFinalize(crc uint32) uint32 {
	return crc
}

// CRC32 returns the checksum of a complete image, as carried in init
// packets. Exposed for upload clients.
func CRC32(data []byte) uint32 {
	return crcFinalize(crcUpdate(crcInit(), data))
}
