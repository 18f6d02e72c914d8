package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// Resize scales src to w×h with a bilinear kernel. Downscaling widens the
// kernel support so every source pixel contributes, which approximates
// area averaging.
func Resize(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// ResizeGray scales an 8-bit gray image to w×h.
func ResizeGray(src *image.Gray, w, h int) *image.Gray {
	if b := src.Bounds(); b.Dx() == w && b.Dy() == h {
		return src
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// ResizePlane scales a float plane to w×h through an 8-bit gray round trip.
func ResizePlane(p *Plane, w, h int) *Plane {
	if p.W == w && p.H == h {
		return p.Clone()
	}
	return PlaneFromGray(ResizeGray(p.ToGray(), w, h))
}

// ToRGBA converts any image to RGBA, returning src unchanged when it already is one.
func ToRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}
