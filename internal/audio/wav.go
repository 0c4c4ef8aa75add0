package audio

import (
	"bytes"
	"encoding/binary"
)

// Telephony audio arrives as 8kHz mono 8-bit mulaw and is stored as-is; no
// codec conversion happens on the capture path.
const (
	wavSampleRate = 8000
	wavChannels   = 1
	wavBits       = 8
	wavFormatULaw = 7
)

// buildMulawWAV wraps raw mulaw samples in a RIFF/WAVE container. Non-PCM
// formats carry an 18-byte fmt chunk (cbSize present) and a fact chunk with
// the sample count.
func buildMulawWAV(samples []byte) []byte {
	byteRate := uint32(wavSampleRate * wavChannels * wavBits / 8)
	blockAlign := uint16(wavChannels * wavBits / 8)
	dataLen := uint32(len(samples))
	// RIFF size = "WAVE" + fmt chunk (8+18) + fact chunk (8+4) + data chunk (8+len)
	riffSize := uint32(4 + (8 + 18) + (8 + 4) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(18))
	binary.Write(buf, binary.LittleEndian, uint16(wavFormatULaw))
	binary.Write(buf, binary.LittleEndian, uint16(wavChannels))
	binary.Write(buf, binary.LittleEndian, uint32(wavSampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(wavBits))
	binary.Write(buf, binary.LittleEndian, uint16(0)) // cbSize

	buf.WriteString("fact")
	binary.Write(buf, binary.LittleEndian, uint32(4))
	binary.Write(buf, binary.LittleEndian, dataLen/uint32(blockAlign))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(samples)
	return buf.Bytes()
}
