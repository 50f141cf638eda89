package controllers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/nsmarket/sponsorhub/internal/pkg/storage"
	"github.com/nsmarket/sponsorhub/internal/pkg/upload"
)

const logoUploadTimeout = 30 * time.Second

// LogoStorage stores sponsor logo files and returns their public location.
type LogoStorage interface {
	UploadLogo(ctx context.Context, objectKey, contentType string, body io.Reader, size int64) (*storage.UploadResult, error)
}

var logoStore LogoStorage

// InitializeUploadController wires the logo upload handler to its blob store.
// Passing nil disables uploads (the handler then answers 503).
func InitializeUploadController(store LogoStorage) {
	logoStore = store
}

// HandleLogoUpload accepts a raw image body and stores it as a sponsor logo.
// The returned URL is what sponsors submit as logoUrl during checkout.
func HandleLogoUpload(c *fiber.Ctx) error {
	filename := strings.TrimSpace(c.Query("filename"))
	if filename == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "filename is required"})
	}

	body := c.Body()
	if len(body) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "request body is required"})
	}

	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	contentType, err := upload.ValidateLogoBySniff(filename, head)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if logoStore == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "logo storage is not configured"})
	}

	// Random prefix avoids collisions between sponsors uploading the same filename.
	objectKey := fmt.Sprintf("sponsor-logos/%s-%s", uuid.NewString(), filepath.Base(filename))

	ctx, cancel := context.WithTimeout(context.Background(), logoUploadTimeout)
	defer cancel()

	result, err := logoStore.UploadLogo(ctx, objectKey, contentType, bytes.NewReader(body), int64(len(body)))
	if err != nil {
		log.Errorf("logo upload failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to upload file"})
	}

	return c.JSON(fiber.Map{"url": result.URL, "path": result.Path})
}
