package sqtype

import "fmt"

// Category is the top-level asset class encoded in the first byte of a
// segment file name.
type Category uint8

// Known categories.
const (
	CategoryCommon     Category = 0x00
	CategoryBgCommon   Category = 0x01
	CategoryBg         Category = 0x02
	CategoryCut        Category = 0x03
	CategoryChara      Category = 0x04
	CategoryShader     Category = 0x05
	CategoryUI         Category = 0x06
	CategorySound      Category = 0x07
	CategoryVFX        Category = 0x08
	CategoryUIScript   Category = 0x09
	CategoryExd        Category = 0x0a
	CategoryGameScript Category = 0x0b
	CategoryMusic      Category = 0x0c
	CategorySqpackTest Category = 0x12
	CategoryDebug      Category = 0x13
)

var categoryNames = map[string]Category{
	"common":      CategoryCommon,
	"bgcommon":    CategoryBgCommon,
	"bg":          CategoryBg,
	"cut":         CategoryCut,
	"chara":       CategoryChara,
	"shader":      CategoryShader,
	"ui":          CategoryUI,
	"sound":       CategorySound,
	"vfx":         CategoryVFX,
	"ui_script":   CategoryUIScript,
	"exd":         CategoryExd,
	"game_script": CategoryGameScript,
	"music":       CategoryMusic,
	"sqpack_test": CategorySqpackTest,
	"debug":       CategoryDebug,
}

// ParseCategory resolves the category named by the first element of an
// archive path.
func ParseCategory(name string) (Category, bool) {
	c, ok := categoryNames[name]
	return c, ok
}

// String returns the category name, or its hex id when unknown.
func (c Category) String() string {
	for name, id := range categoryNames {
		if id == c {
			return name
		}
	}
	return fmt.Sprintf("%02x", uint8(c))
}
