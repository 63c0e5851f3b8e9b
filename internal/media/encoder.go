// Package media holds the frame pipeline: the encoder that turns raw
// frames into model-ready payloads and the bounded hand-off queue that
// carries frames from a producer into the session engine.
package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	// MaxFrameDim caps the longer side of an encoded frame.
	MaxFrameDim = 1024

	jpegQuality = 85

	MIMETypeJPEG = "image/jpeg"
	MIMETypePCM  = "audio/pcm"
)

// Payload is an immutable encoded media value: a MIME tag plus opaque
// bytes, produced once and consumed by exactly one send.
type Payload struct {
	MIMEType string
	Data     []byte
}

// Base64 returns the transport encoding of the payload bytes.
func (p Payload) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// PCMPayload tags a raw audio chunk for realtime input at the given rate.
func PCMPayload(chunk []byte, sampleRate int) Payload {
	return Payload{
		MIMEType: fmt.Sprintf("%s;rate=%d", MIMETypePCM, sampleRate),
		Data:     chunk,
	}
}

// EncodeFrame downscales a frame so neither dimension exceeds MaxFrameDim
// (preserving aspect ratio, never upscaling) and compresses it to JPEG.
// It is pure and touches no shared state, so it is safe from any task.
func EncodeFrame(img image.Image) (Payload, error) {
	if img == nil {
		return Payload{}, fmt.Errorf("encode frame: nil image")
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return Payload{}, fmt.Errorf("encode frame: empty image %dx%d", bounds.Dx(), bounds.Dy())
	}

	w, h := fitWithin(bounds.Dx(), bounds.Dy(), MaxFrameDim)
	if w != bounds.Dx() || h != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Payload{}, fmt.Errorf("encode frame: %w", err)
	}
	return Payload{MIMEType: MIMETypeJPEG, Data: buf.Bytes()}, nil
}

// DecodeJPEG parses an uploaded frame. JPEG is the only image format
// registered in this binary, so anything else is rejected.
func DecodeJPEG(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

func fitWithin(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		scaled := int(float64(h) * float64(maxDim) / float64(w))
		if scaled < 1 {
			scaled = 1
		}
		return maxDim, scaled
	}
	scaled := int(float64(w) * float64(maxDim) / float64(h))
	if scaled < 1 {
		scaled = 1
	}
	return scaled, maxDim
}
