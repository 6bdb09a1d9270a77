package alpr

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// OverlayStyle configures RenderOverlay.
type OverlayStyle struct {
	Box       color.Color // recognized plates
	Unread    color.Color // plates without recognition
	Text      color.Color
	Thickness int
}

// DefaultOverlayStyle draws recognized plates green and unread plates red.
func DefaultOverlayStyle() OverlayStyle {
	return OverlayStyle{
		Box:       color.NRGBA{0, 200, 0, 255},
		Unread:    color.NRGBA{230, 0, 0, 255},
		Text:      color.NRGBA{255, 255, 255, 255},
		Thickness: 2,
	}
}

// RenderOverlay draws plate boxes and texts over a copy of img. Box
// coordinates are relative to the image origin.
func RenderOverlay(img image.Image, rep *FrameReport, style OverlayStyle) *image.NRGBA {
	if img == nil {
		return nil
	}
	dst := imaging.Clone(img)
	if rep == nil {
		return dst
	}
	if style.Thickness <= 0 {
		style.Thickness = 1
	}
	for _, p := range rep.Plates {
		col := style.Unread
		if p.Recognized() {
			col = style.Box
		}
		r := p.Box.Rect().Intersect(dst.Bounds())
		if r.Empty() {
			continue
		}
		strokeRect(dst, r, style.Thickness, col)
		if p.Recognized() && p.Text != "" {
			drawLabel(dst, r, p.Text, col, style.Text)
		}
	}
	return dst
}

func strokeRect(dst draw.Image, r image.Rectangle, t int, col color.Color) {
	src := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// drawLabel writes text on a filled strip above the box, or inside its top
// edge when there is no room above.
func drawLabel(dst draw.Image, box image.Rectangle, text string, bg, fg color.Color) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(fg), Face: face}
	w := d.MeasureString(text).Ceil() + 4
	h := face.Height + 2

	top := box.Min.Y - h
	if top < dst.Bounds().Min.Y {
		top = box.Min.Y
	}
	strip := image.Rect(box.Min.X, top, box.Min.X+w, top+h).Intersect(dst.Bounds())
	draw.Draw(dst, strip, image.NewUniform(bg), image.Point{}, draw.Src)

	d.Dot = fixed.P(strip.Min.X+2, strip.Min.Y+face.Ascent+1)
	d.DrawString(text)
}
