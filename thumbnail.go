package main

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const thumbnailDir = ".thumbnails"

// isImageFile checks if the file extension indicates an image we import.
func isImageFile(filename string) bool {
	return isImageExt(filepath.Ext(filename))
}

// thumbnailSize returns the dimensions fitting width x height inside a
// maxSize box while keeping the aspect ratio.
func thumbnailSize(width, height, maxSize int) (int, int) {
	if width <= 0 || height <= 0 {
		return maxSize, maxSize
	}
	if width > height {
		// Landscape: width is the limiting factor
		return maxSize, max1(height * maxSize / width)
	}
	// Portrait or square: height is the limiting factor
	return max1(width * maxSize / height), maxSize
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// generateThumbnail decodes an image from r and writes a JPEG thumbnail to destPath.
func generateThumbnail(r io.Reader, destPath string, maxSize int) error {
	srcImg, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}
	return saveThumbnail(srcImg, destPath, maxSize)
}

func saveThumbnail(srcImg image.Image, destPath string, maxSize int) error {
	bounds := srcImg.Bounds()
	w, h := thumbnailSize(bounds.Dx(), bounds.Dy(), maxSize)
	thumbImg := imaging.Resize(srcImg, w, h, imaging.Lanczos)

	if err := os.MkdirAll(filepath.Dir(destPath), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	if err := imaging.Save(thumbImg, destPath, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("failed to save thumbnail: %w", err)
	}
	return nil
}

// processThumbnail writes the thumbnail for the photo with the given content
// hash under dataDir and returns its path relative to dataDir. Existing
// thumbnails are reused.
func processThumbnail(r io.Reader, dataDir, hash string) (string, error) {
	rel := filepath.ToSlash(filepath.Join(thumbnailDir, hash+".jpg"))
	thumbPath := filepath.Join(dataDir, filepath.FromSlash(rel))

	if _, err := os.Stat(thumbPath); err == nil {
		return rel, nil
	}

	// Default size: 200px
	if err := generateThumbnail(r, thumbPath, 200); err != nil {
		return "", fmt.Errorf("thumbnail generation failed for %s: %w", hash, err)
	}
	return rel, nil
}
