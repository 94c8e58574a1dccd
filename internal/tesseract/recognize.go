//go:build ocr

package tesseract

import (
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Available reports whether recognition was compiled in.
const Available = true

func (e *Engine) recognize(data []byte) (string, error) {
	c := gosseract.NewClient()
	defer c.Close()

	if err := c.SetLanguage(e.languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return "", fmt.Errorf("set page segmentation: %w", err)
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}
