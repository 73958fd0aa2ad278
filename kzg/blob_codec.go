package kzg

// Blob payload codec.
//
// A payload is stored as H || payload where H is a 4-byte header: H[0..2] is
// the payload byte length big-endian and H[3] is reserved zero. The stream is
// striped across the blob's 4096 field elements, 31 bytes per element, with
// byte 0 of every element left zero so each element is a canonical BLS12-381
// scalar. DecodeBlob(EncodeBlob(x)) == x for every valid payload x.

// EncodeBlob packs a payload into a blob. It fails with ErrPayloadEmpty for
// zero-length input and ErrPayloadTooLarge above MaxPayloadSize (126972).
func EncodeBlob(payload []byte) (*Blob, error) {
	if len(payload) == 0 {
		return nil, ErrPayloadEmpty
	}
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	var header [headerSize]byte
	header[0] = byte(len(payload) >> 16)
	header[1] = byte(len(payload) >> 8)
	header[2] = byte(len(payload))
	// header[3] is reserved zero.

	blob := new(Blob)
	stream := make([]byte, 0, headerSize+len(payload))
	stream = append(stream, header[:]...)
	stream = append(stream, payload...)

	for i := 0; i < FieldElementsPerBlob; i++ {
		lo := i * usableBytesPerElement
		if lo >= len(stream) {
			break
		}
		hi := lo + usableBytesPerElement
		if hi > len(stream) {
			hi = len(stream)
		}
		// Element byte 0 stays zero; payload goes into bytes 1..31.
		copy(blob[i*BytesPerFieldElement+1:], stream[lo:hi])
	}
	return blob, nil
}

// DecodeBlob recovers the payload from an encoded blob. It fails with
// ErrBlobSizeInvalid if the input is not exactly BytesPerBlob bytes.
func DecodeBlob(blob []byte) ([]byte, error) {
	if len(blob) != BytesPerBlob {
		return nil, ErrBlobSizeInvalid
	}

	// The header's length bytes land at blob[1..3]: blob[0] is the leading
	// zero of field element 0.
	length := int(blob[1])<<16 | int(blob[2])<<8 | int(blob[3])
	if length > MaxPayloadSize {
		return nil, ErrBlobSizeInvalid
	}

	payload := make([]byte, 0, length)
	// Stream position starts after the 4-byte header.
	for pos := headerSize; len(payload) < length; pos++ {
		elem := pos / usableBytesPerElement
		off := pos % usableBytesPerElement
		payload = append(payload, blob[elem*BytesPerFieldElement+1+off])
	}
	return payload, nil
}
