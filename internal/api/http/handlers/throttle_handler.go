package handlers

import (
	"math"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sorting-kiosk/internal/api/dto"
	"github.com/spec-kit/sorting-kiosk/internal/ratelimit"
	apperrors "github.com/spec-kit/sorting-kiosk/pkg/util/errorutil"
)

// ThrottleHandler lets an administrator inspect and reset throttle windows.
type ThrottleHandler struct {
	limiter *ratelimit.Limiter
}

// NewThrottleHandler constructs handler.
func NewThrottleHandler(limiter *ratelimit.Limiter) *ThrottleHandler {
	return &ThrottleHandler{limiter: limiter}
}

// Get handles GET /admin/throttle/:key.
func (h *ThrottleHandler) Get(c *fiber.Ctx) error {
	category, preset, err := lookupCategory(c.Params("key"))
	if err != nil {
		return err
	}
	st := h.limiter.Status(string(category), preset.Max)
	return c.JSON(fiber.Map{"data": dto.ThrottleResponse{
		Category:       string(category),
		Max:            preset.Max,
		Count:          st.Count,
		Remaining:      st.Remaining,
		ResetInSeconds: int64(math.Ceil(st.ResetIn.Seconds())),
	}})
}

// Reset handles DELETE /admin/throttle/:key.
func (h *ThrottleHandler) Reset(c *fiber.Ctx) error {
	category, _, err := lookupCategory(c.Params("key"))
	if err != nil {
		return err
	}
	h.limiter.Reset(string(category))
	return c.SendStatus(http.StatusNoContent)
}

// Clear handles DELETE /admin/throttle.
func (h *ThrottleHandler) Clear(c *fiber.Ctx) error {
	h.limiter.Clear()
	return c.SendStatus(http.StatusNoContent)
}

func lookupCategory(raw string) (ratelimit.Category, ratelimit.Preset, error) {
	category := ratelimit.Category(strings.ToUpper(raw))
	preset, ok := ratelimit.Presets[category]
	if !ok {
		return "", ratelimit.Preset{}, apperrors.NewDescriptor(apperrors.CodeNotFound, "key", nil)
	}
	return category, preset, nil
}
