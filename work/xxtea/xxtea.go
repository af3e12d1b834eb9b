// Package xxtea implements the XXTEA block cipher over byte slices, using the
// corrected Block TEA algorithm with little-endian word packing and an embedded
// length word. Upstream signal pages embed their payloads in exactly this
// format, so both directions are provided even though the proxy only ever
// decrypts in production.
package xxtea

import "encoding/binary"

const delta = 0x9e3779b9

// Encrypt encrypts data with the given key and returns the ciphertext.
// The key is truncated or zero-padded to 16 bytes. Empty input returns nil.
func Encrypt(data, key []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	v := toWords(data, true)
	encryptWords(v, keyWords(key))
	return toBytes(v, false)
}

// Decrypt decrypts data with the given key and returns the plaintext, or nil
// if the input is empty, not a whole number of words, or carries an invalid
// embedded length.
func Decrypt(data, key []byte) []byte {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	v := toWords(data, false)
	if len(v) < 2 {
		return nil
	}
	decryptWords(v, keyWords(key))
	return toBytes(v, true)
}

// keyWords fixes the key to exactly four 32-bit words.
func keyWords(key []byte) [4]uint32 {
	var fixed [16]byte
	copy(fixed[:], key)
	var k [4]uint32
	for i := 0; i < 4; i++ {
		k[i] = binary.LittleEndian.Uint32(fixed[i*4:])
	}
	return k
}

func mx(sum, y, z uint32, p, e uint32, k [4]uint32) uint32 {
	return ((z>>5 ^ y<<2) + (y>>3 ^ z<<4)) ^ ((sum ^ y) + (k[(p&3)^e] ^ z))
}

func encryptWords(v []uint32, k [4]uint32) {
	n := uint32(len(v))
	if n < 2 {
		return
	}
	z := v[n-1]
	var sum uint32
	for q := 6 + 52/n; q > 0; q-- {
		sum += delta
		e := (sum >> 2) & 3
		var p uint32
		for p = 0; p < n-1; p++ {
			y := v[p+1]
			v[p] += mx(sum, y, z, p, e, k)
			z = v[p]
		}
		y := v[0]
		v[n-1] += mx(sum, y, z, p, e, k)
		z = v[n-1]
	}
}

func decryptWords(v []uint32, k [4]uint32) {
	n := uint32(len(v))
	if n < 2 {
		return
	}
	y := v[0]
	for sum := (6 + 52/n) * delta; sum != 0; sum -= delta {
		e := (sum >> 2) & 3
		for p := n - 1; p > 0; p-- {
			z := v[p-1]
			v[p] -= mx(sum, y, z, p, e, k)
			y = v[p]
		}
		z := v[n-1]
		v[0] -= mx(sum, y, z, 0, e, k)
		y = v[0]
	}
}

// toWords packs bytes into little-endian words, optionally appending the
// original byte length as the final word.
func toWords(data []byte, includeLength bool) []uint32 {
	n := (len(data) + 3) / 4
	size := n
	if includeLength {
		size++
	}
	v := make([]uint32, size)
	for i, b := range data {
		v[i/4] |= uint32(b) << (uint32(i%4) * 8)
	}
	if includeLength {
		v[n] = uint32(len(data))
	}
	return v
}

// toBytes unpacks words back into bytes. When includeLength is set, the final
// word is the original byte length and is validated against the word count;
// out-of-range lengths return nil.
func toBytes(v []uint32, includeLength bool) []byte {
	n := len(v)
	size := n * 4
	if includeLength {
		length := int(v[n-1])
		if length > (n-1)*4 || length < (n-2)*4 {
			return nil
		}
		size = length
		n--
	}
	out := make([]byte, size)
	for i := 0; i < size; i++ {
		out[i] = byte(v[i/4] >> (uint32(i%4) * 8))
	}
	return out
}
