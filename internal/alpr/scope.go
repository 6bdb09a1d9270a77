package alpr

import (
	"log/slog"

	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
)

// scope collects native images owned by one Predict call and releases them
// together, newest first.
type scope struct {
	owned []imgsrc.Image
}

func (s *scope) add(img imgsrc.Image) { s.owned = append(s.owned, img) }

func (s *scope) release(logger *slog.Logger) {
	for i := len(s.owned) - 1; i >= 0; i-- {
		if err := s.owned[i].Release(); err != nil {
			logger.Warn("Failed to release image", "error", err)
		}
	}
	s.owned = nil
}
