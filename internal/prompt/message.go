package prompt

// RoleUser is the only role the pipeline ever sends.
const RoleUser = "user"

// ImageFormatPNG is the format attached to every uploaded diagram.
const ImageFormatPNG = "png"

// Stage names one request/response cycle against the model.
type Stage string

const (
	StageDescribe Stage = "describe"
	StageConvert  Stage = "convert"
	StageUpdate   Stage = "update"
)

// Message is a single chat turn sent to the model.
type Message struct {
	Role    string
	Content []Block
}

// Block is either a text block or an image block. Image is non-nil for image
// blocks, in which case Text is empty.
type Block struct {
	Text  string
	Image *Image
}

// Image carries raw (not base64 encoded) image bytes.
type Image struct {
	Format string
	Bytes  []byte
}

func TextBlock(text string) Block {
	return Block{Text: text}
}

func ImageBlock(format string, data []byte) Block {
	return Block{Image: &Image{Format: format, Bytes: data}}
}

// IsImage reports whether b is an image block.
func (b Block) IsImage() bool {
	return b.Image != nil
}
