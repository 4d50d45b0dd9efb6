// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package modfsp

// CalculateCRC computes the CRC-16/XMODEM checksum for the given data
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc = UpdateCRC(crc, b)
	}
	return crc
}

// UpdateCRC folds a single byte into a running CRC-16/XMODEM value.
// Start from CalculateCRC(nil) when accumulating a stream.
func UpdateCRC(crc uint16, b byte) uint16 {
	crc ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = (crc << 1) ^ crcPolynomial
		} else {
			crc <<= 1
		}
	}
	return crc
}
