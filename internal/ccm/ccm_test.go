package ccm

import (
	"bytes"
	"testing"
)

func testParams(micLen int) Params {
	return Params{
		Key:          []byte("0123456789abcdef"),
		SrcAddr:      0x00124B0001020304,
		FrameCounter: 0x000000C8,
		NonceByte:    0x05,
		MICLen:       micLen,
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	for _, micLen := range []int{4, 8, 16} {
		p := testParams(micLen)
		aad := []byte{0x61, 0x88, 0x5a, 0xcd, 0xab, 0xff, 0xff, 0x34, 0x12}
		plaintext := []byte("attack at dawn")

		payload := append([]byte{}, plaintext...)
		mic, err := p.Seal(aad, payload)
		if err != nil {
			t.Fatalf("mic %d: seal: %v", micLen, err)
		}
		if len(mic) != micLen {
			t.Fatalf("mic %d: got %d tag bytes", micLen, len(mic))
		}
		if bytes.Equal(payload, plaintext) {
			t.Fatalf("mic %d: seal left payload in the clear", micLen)
		}

		// Receiver side: CTR first, then recompute the tag.
		decMIC := append([]byte{}, mic...)
		if err := p.Transform(decMIC, payload); err != nil {
			t.Fatalf("mic %d: transform: %v", micLen, err)
		}
		if !bytes.Equal(payload, plaintext) {
			t.Fatalf("mic %d: decrypt gave %x, want %x", micLen, payload, plaintext)
		}
		tag, err := p.Tag(aad, payload)
		if err != nil {
			t.Fatalf("mic %d: tag: %v", micLen, err)
		}
		if !bytes.Equal(tag, decMIC) {
			t.Fatalf("mic %d: tag mismatch on untampered frame", micLen)
		}
	}
}

func TestTamperDetected(t *testing.T) {
	p := testParams(8)
	aad := []byte{0x61, 0x88, 0x5a}
	plaintext := []byte("telemetry payload bytes")

	for corrupt := 0; corrupt < len(plaintext)+len(aad); corrupt++ {
		payload := append([]byte{}, plaintext...)
		mic, err := p.Seal(aad, payload)
		if err != nil {
			t.Fatal(err)
		}
		a := append([]byte{}, aad...)
		if corrupt < len(payload) {
			payload[corrupt] ^= 0x80
		} else {
			a[corrupt-len(payload)] ^= 0x80
		}

		decMIC := append([]byte{}, mic...)
		if err := p.Transform(decMIC, payload); err != nil {
			t.Fatal(err)
		}
		tag, err := p.Tag(a, payload)
		if err != nil {
			t.Fatal(err)
		}
		if bytes.Equal(tag, decMIC) {
			t.Fatalf("corrupting byte %d went undetected", corrupt)
		}
	}
}

func TestIntegrityOnlyTag(t *testing.T) {
	p := testParams(4)
	// Unencrypted levels authenticate header and payload as one
	// stream; the plaintext argument stays empty.
	covered := []byte{0x40, 0x88, 0x01, 0xde, 0xad, 0xbe, 0xef}
	tag1, err := p.Tag(covered, nil)
	if err != nil {
		t.Fatal(err)
	}
	tag2, err := p.Tag(covered, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(tag1, tag2) {
		t.Fatal("tag not deterministic")
	}

	covered[3] ^= 0x01
	tag3, err := p.Tag(covered, nil)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(tag1, tag3) {
		t.Fatal("modified input produced the same tag")
	}
}

func TestCounterChangesKeystream(t *testing.T) {
	p := testParams(0)
	q := p
	q.FrameCounter++

	a := []byte("same bytes in both")
	b := append([]byte{}, a...)
	if err := p.Transform(nil, a); err != nil {
		t.Fatal(err)
	}
	if err := q.Transform(nil, b); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("different frame counters produced identical ciphertext")
	}
}

func TestKeySizeChecked(t *testing.T) {
	p := testParams(4)
	p.Key = []byte("short")
	if _, err := p.Tag(nil, nil); err == nil {
		t.Fatal("expected key size error")
	}
	if err := p.Transform(nil, nil); err == nil {
		t.Fatal("expected key size error")
	}
}
