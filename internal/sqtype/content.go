package sqtype

// ContentType identifies how a file's blocks are laid out in a data file.
type ContentType uint32

const (
	// ContentPlaceholder marks a range retired by a patch.
	ContentPlaceholder ContentType = 0
	ContentEmpty       ContentType = 1
	ContentStandard    ContentType = 2
	ContentModel       ContentType = 3
	ContentTexture     ContentType = 4
)

// String returns the human-readable name of the content type.
func (c ContentType) String() string {
	switch c {
	case ContentPlaceholder:
		return "placeholder"
	case ContentEmpty:
		return "empty"
	case ContentStandard:
		return "standard"
	case ContentModel:
		return "model"
	case ContentTexture:
		return "texture"
	default:
		return "unknown"
	}
}
