package raster

import (
	"fmt"
	"image"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultPlaceholderSize is used when a strategy has no better page geometry.
var DefaultPlaceholderSize = image.Pt(800, 1100)

// PlaceholderPNG draws a white page labeled with pageNum. The output depends
// only on its arguments.
func PlaceholderPNG(pageNum int, size image.Point) ([]byte, error) {
	if size.X <= 0 || size.Y <= 0 {
		size = DefaultPlaceholderSize
	}
	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(50, 100),
	}
	d.DrawString(PlaceholderLabel(pageNum))

	return encodePNG(img)
}

// PlaceholderLabel is the text drawn on a placeholder page.
func PlaceholderLabel(pageNum int) string {
	return fmt.Sprintf("Page %d (rendering failed)", pageNum)
}
