package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var ErrUnknownMedia = errors.New("unknown media reference")

// MediaResolver maps upload references (the uuid the upload service hands back)
// to the URL clients fetch them from.
type MediaResolver struct {
	baseURL string
}

func NewMediaResolver(baseURL string) *MediaResolver {
	return &MediaResolver{baseURL: strings.TrimRight(baseURL, "/")}
}

func (r *MediaResolver) ResolveMedia(_ context.Context, ref string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownMedia, ref)
	}
	return r.baseURL + "/" + id.String(), nil
}
