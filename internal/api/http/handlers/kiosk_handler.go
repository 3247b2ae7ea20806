package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sorting-kiosk/internal/service"
	apperrors "github.com/spec-kit/sorting-kiosk/pkg/util/errorutil"
)

// KioskHandler exposes scanning and bin status to the kiosk UI.
type KioskHandler struct {
	kiosk *service.KioskService
}

// NewKioskHandler constructs handler.
func NewKioskHandler(kiosk *service.KioskService) *KioskHandler {
	return &KioskHandler{kiosk: kiosk}
}

// Scan handles POST /kiosk/scan with a multipart "photo" file.
func (h *KioskHandler) Scan(c *fiber.Ctx) error {
	fh, err := c.FormFile("photo")
	if err != nil {
		return apperrors.NewValidationError("photo", "photo file required")
	}
	f, err := fh.Open()
	if err != nil {
		return apperrors.NewValidationError("photo", "photo unreadable")
	}
	defer f.Close()

	result, err := h.kiosk.UploadScan(c.UserContext(), fh.Filename, fh.Header.Get("Content-Type"), f)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

// Bins handles GET /kiosk/bins.
func (h *KioskHandler) Bins(c *fiber.Ctx) error {
	bins, err := h.kiosk.Bins(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": bins})
}
