package annotate

import (
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// A face caches glyphs and is not safe for concurrent use, so each image gets its own.
func labelFace() font.Face {
	return truetype.NewFace(labelFont, &truetype.Options{Size: LabelFontSize})
}
