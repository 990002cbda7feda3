package preview

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// RenderKitty returns the escape sequence that draws the PNG at filePath in
// a cols x rows cell box. A positive crop limits the source rectangle.
func RenderKitty(filePath string, cols, rows, cropWidth, cropHeight int) (string, error) {
	if strings.TrimSpace(filePath) == "" {
		return "", errors.New("image file path missing")
	}
	if cols <= 0 {
		cols = 20
	}
	if rows <= 0 {
		rows = 10
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(filePath))
	params := fmt.Sprintf("a=T,f=100,t=f,c=%d,r=%d,q=2,C=1,z=1", cols, rows)
	if cropWidth > 0 && cropHeight > 0 {
		params = fmt.Sprintf("%s,w=%d,h=%d", params, cropWidth, cropHeight)
	}
	return fmt.Sprintf("\x1b_G%s;%s\x1b\\", params, encoded), nil
}

// ClearKitty removes every image placed by RenderKitty.
func ClearKitty() string {
	return "\x1b_Ga=d,q=2\x1b\\"
}
