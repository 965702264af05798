// Package ccm implements the CCM* mode of operation used by 802.15.4
// frame security: AES-128 in CTR mode for confidentiality and a
// CBC-MAC tag over the frame header and payload for integrity, both
// driven by a nonce built from the extended source address, the frame
// counter and the security level.
package ccm

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
)

// KeySize is the only key length 802.15.4 security uses.
const KeySize = 16

var ErrKeySize = errors.New("ccm: key must be 16 bytes")

// Params identifies one frame's cryptographic context.
type Params struct {
	Key          []byte
	SrcAddr      uint64 // extended source address, big-endian in the nonce
	FrameCounter uint32
	// NonceByte is the last nonce octet: the security level for 2006
	// and later frames, the key sequence counter for 2003 suites.
	NonceByte uint8
	MICLen    int
}

// initBlock fills b with the CCM* initial block: flags, the 13-byte
// nonce and a 16-bit block counter. The length-of-length field is
// always L=2 for 802.15.4.
func (p Params) initBlock(b *[aes.BlockSize]byte, adata bool, micLen int, ctr uint16) {
	b[0] = 1 // (L - 1)
	if micLen > 0 {
		b[0] |= byte((micLen-2)/2) << 3
	}
	if adata {
		b[0] |= 1 << 6
	}
	binary.BigEndian.PutUint64(b[1:], p.SrcAddr)
	binary.BigEndian.PutUint32(b[9:], p.FrameCounter)
	b[13] = p.NonceByte
	binary.BigEndian.PutUint16(b[14:], ctr)
}

func (p Params) cipher() (cipher.Block, error) {
	if len(p.Key) != KeySize {
		return nil, ErrKeySize
	}
	c, err := aes.NewCipher(p.Key)
	if err != nil {
		return nil, fmt.Errorf("ccm: %w", err)
	}
	return c, nil
}

// Transform applies the CTR keystream to mic and data in place.
// Decryption and encryption are the same operation. The MIC occupies
// counter block zero, the payload starts at counter block one.
func (p Params) Transform(mic, data []byte) error {
	c, err := p.cipher()
	if err != nil {
		return err
	}
	var iv [aes.BlockSize]byte
	p.initBlock(&iv, false, 0, 0)
	stream := cipher.NewCTR(c, iv[:])

	var block [aes.BlockSize]byte
	copy(block[:], mic)
	stream.XORKeyStream(block[:], block[:])
	copy(mic, block[:len(mic)])

	stream.XORKeyStream(data, data)
	return nil
}

// Tag computes the CBC-MAC authentication tag over aad and plaintext
// and returns its leading MICLen bytes. For integrity-only frames the
// caller folds the payload into aad and passes an empty plaintext.
func (p Params) Tag(aad, plaintext []byte) ([]byte, error) {
	c, err := p.cipher()
	if err != nil {
		return nil, err
	}

	var state [aes.BlockSize]byte
	p.initBlock(&state, len(aad) > 0, p.MICLen, uint16(len(plaintext)))
	c.Encrypt(state[:], state[:])

	if len(aad) > 0 {
		// The authenticated-data stream starts with the encoded
		// length of aad, then aad itself, zero-padded to a block.
		var hdr [6]byte
		n := 2
		if len(aad) < 0xFF00 {
			binary.BigEndian.PutUint16(hdr[:], uint16(len(aad)))
		} else {
			hdr[0], hdr[1] = 0xFF, 0xFE
			binary.BigEndian.PutUint32(hdr[2:], uint32(len(aad)))
			n = 6
		}
		absorb(c, &state, append(hdr[:n:n], aad...))
	}
	absorb(c, &state, plaintext)

	tag := make([]byte, p.MICLen)
	copy(tag, state[:])
	return tag, nil
}

// absorb folds data into the CBC-MAC state one zero-padded block at a
// time.
func absorb(c cipher.Block, state *[aes.BlockSize]byte, data []byte) {
	for len(data) > 0 {
		n := len(data)
		if n > aes.BlockSize {
			n = aes.BlockSize
		}
		for i := 0; i < n; i++ {
			state[i] ^= data[i]
		}
		c.Encrypt(state[:], state[:])
		data = data[n:]
	}
}

// Seal encrypts plaintext in place and returns the encrypted MIC that
// goes on the wire after it. aad must be the frame header bytes that
// precede the payload. With MICLen zero it only enciphers.
func (p Params) Seal(aad, plaintext []byte) ([]byte, error) {
	tag, err := p.Tag(aad, plaintext)
	if err != nil {
		return nil, err
	}
	if err := p.Transform(tag, plaintext); err != nil {
		return nil, err
	}
	return tag, nil
}
