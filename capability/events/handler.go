package events

import (
	"context"
	"fmt"

	"github.com/caffeineduck/capsule/resource"
)

// Handler delivers events to exports of a secondary guest instance.
type Handler struct {
	guest resource.Guest
}

func NewHandler(guest resource.Guest) *Handler {
	return &Handler{guest: guest}
}

// Handle calls export with ev as its JSON payload.
func (h *Handler) Handle(ctx context.Context, export string, ev Event) error {
	if err := h.guest.Call(ctx, export, ev, nil); err != nil {
		return fmt.Errorf("handler %s: %w", export, err)
	}
	return nil
}
