package stt

import (
	"encoding/binary"
	"sync"
)

// mulawSilence is the mu-law byte encoding zero amplitude
const mulawSilence = 0xFF

// Interleaver merges two mu-law tracks into a single two-channel
// byte-interleaved stream. Mu-law is one byte per sample, so interleaving
// alternates one byte from each track; when one track runs dry it is
// padded with silence so the channels stay time-aligned.
type Interleaver struct {
	mutex    sync.Mutex
	inbound  []byte
	outbound []byte
}

// Push appends a frame for one track
func (iv *Interleaver) Push(track Track, frame []byte) {
	iv.mutex.Lock()
	defer iv.mutex.Unlock()
	if track == TrackOutbound {
		iv.outbound = append(iv.outbound, frame...)
	} else {
		iv.inbound = append(iv.inbound, frame...)
	}
}

// Pull drains both queues into an interleaved buffer, padding the shorter
// track with silence. Returns nil when both queues are empty.
func (iv *Interleaver) Pull() []byte {
	iv.mutex.Lock()
	defer iv.mutex.Unlock()

	n := len(iv.inbound)
	if len(iv.outbound) > n {
		n = len(iv.outbound)
	}
	if n == 0 {
		return nil
	}

	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		out = append(out, sampleAt(iv.inbound, i), sampleAt(iv.outbound, i))
	}
	iv.inbound = iv.inbound[:0]
	iv.outbound = iv.outbound[:0]
	return out
}

func sampleAt(buf []byte, i int) byte {
	if i < len(buf) {
		return buf[i]
	}
	return mulawSilence
}

// mulawDecodeTable maps each mu-law byte to its 16-bit linear PCM sample
var mulawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		u := ^byte(i)
		sign := u & 0x80
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		sample := int32(mantissa)<<3 + 0x84
		sample <<= exponent
		sample -= 0x84
		if sign != 0 {
			sample = -sample
		}
		mulawDecodeTable[i] = int16(sample)
	}
}

// DecodeMulaw converts mu-law bytes to 16-bit little-endian linear PCM
func DecodeMulaw(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(mulawDecodeTable[b]))
	}
	return pcm
}
