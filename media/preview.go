package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/TemirkhanN/intrakill/content"
	"github.com/TemirkhanN/intrakill/models"
	"github.com/apex/log"
)

// PreviewGenerator renders thumbnails of media content
type PreviewGenerator interface {
	/*
		Generate render a JPEG thumbnail

			@param ctx context.Context - execution context
			@param src content.Source - media content
			@param mimeType string - media mime type
			@param size int - longest thumbnail side in pixels
			@returns JPEG bytes
	*/
	Generate(ctx context.Context, src content.Source, mimeType string, size int) ([]byte, error)
}

/*
NewPreviewGenerator pick the ffmpeg previewer when the executable is available, the
placeholder previewer otherwise

	@param executable string - ffmpeg executable name or path
	@param tempDir string - where media is staged for ffmpeg
	@returns preview generator
*/
func NewPreviewGenerator(executable string, tempDir string) PreviewGenerator {
	path, err := exec.LookPath(executable)
	if err != nil {
		log.WithError(err).
			WithField("executable", executable).
			Warn("ffmpeg not available, previews will be placeholders")
		return PlaceholderPreviewer{}
	}
	return FFmpegPreviewer{Executable: path, TempDir: tempDir}
}

// FFmpegPreviewer renders the first frame of a media file through ffmpeg
type FFmpegPreviewer struct {
	// Executable ffmpeg executable
	Executable string
	// TempDir where media is staged for ffmpeg
	TempDir string
}

func (p FFmpegPreviewer) Generate(
	ctx context.Context, src content.Source, mimeType string, size int,
) ([]byte, error) {
	if _, err := models.MediaKindOf(mimeType); err != nil {
		return nil, err
	}

	// ffmpeg needs a seekable input for most video containers
	staged, err := os.CreateTemp(p.TempDir, "intrakill-preview-*")
	if err != nil {
		return nil, fmt.Errorf("failed to stage media for preview [%w]", err)
	}
	defer func() {
		_ = staged.Close()
		_ = os.Remove(staged.Name())
	}()
	reader, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open media for preview [%w]", err)
	}
	_, err = io.Copy(staged, reader)
	_ = reader.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to stage media for preview [%w]", err)
	}

	started := time.Now()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(
		ctx, p.Executable,
		"-loglevel", "error",
		"-ss", "0",
		"-i", staged.Name(),
		"-frames:v", "1",
		"-q:v", "4",
		"-vf", fmt.Sprintf("scale='min(%[1]d,iw)':'min(%[1]d,ih)':force_original_aspect_ratio=decrease", size),
		"-f", "image2",
		"-c:v", "mjpeg",
		"pipe:1",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed to render preview: %s [%w]", stderr.String(), err)
	}

	log.WithField("took", time.Since(started)).WithField("mime", mimeType).Debug("Rendered preview")
	return stdout.Bytes(), nil
}

// PlaceholderPreviewer renders a solid tile in place of a real thumbnail
type PlaceholderPreviewer struct{}

// placeholderShade tile color per media category
var placeholderShade = map[models.MediaKindENUMType]color.RGBA{
	models.MediaKindImage: {R: 0x55, G: 0x6b, B: 0x8d, A: 0xff},
	models.MediaKindGIF:   {R: 0x6d, G: 0x8d, B: 0x55, A: 0xff},
	models.MediaKindVideo: {R: 0x8d, G: 0x55, B: 0x6b, A: 0xff},
}

func (PlaceholderPreviewer) Generate(
	_ context.Context, _ content.Source, mimeType string, size int,
) ([]byte, error) {
	kind, err := models.MediaKindOf(mimeType)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid preview size %d", size)
	}

	tile := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(tile, tile.Bounds(), &image.Uniform{C: placeholderShade[kind]}, image.Point{}, draw.Src)

	var encoded bytes.Buffer
	if err := jpeg.Encode(&encoded, tile, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode placeholder preview [%w]", err)
	}
	return encoded.Bytes(), nil
}
