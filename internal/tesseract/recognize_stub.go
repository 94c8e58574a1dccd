//go:build !ocr

package tesseract

// Available reports whether recognition was compiled in.
const Available = false

func (e *Engine) recognize([]byte) (string, error) {
	return "", ErrNotEnabled
}
